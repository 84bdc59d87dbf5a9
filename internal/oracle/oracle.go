// Package oracle caches on-chain balances for tracked addresses and keeps
// them fresh on demand or by polling.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/chain"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/metrics"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// maxConcurrentFetches bounds balance reads in flight during one cycle.
const maxConcurrentFetches = 8

// subscriberBuffer is the per-subscriber change queue length. Changes are
// dropped for a subscriber whose queue is full.
const subscriberBuffer = 64

// Balance is a cached on-chain balance.
type Balance struct {
	Address   common.Address
	Wei       *big.Int
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// Known reports whether the balance has been fetched at least once.
func (b Balance) Known() bool { return b.Wei != nil }

// Change is emitted when a refresh observes a different balance.
type Change struct {
	Address  common.Address
	Previous *Balance
	Current  Balance
}

// Oracle owns the balance cache. Only the oracle writes to it; readers get
// copies.
type Oracle struct {
	rpc     chain.RPC
	metrics *metrics.Metrics
	flight  singleflight.Group

	mu      sync.RWMutex
	cache   map[common.Address]Balance
	tracked map[common.Address]struct{}
	// dropped counts Untrack calls per address. A fetch that started
	// before the latest Untrack does not write the cache.
	dropped map[common.Address]uint64
	subs    map[int]chan Change
	nextSub int

	pollMu  sync.Mutex
	polling map[string]struct{}
}

// New creates an oracle reading from rpc. m may be nil.
func New(rpc chain.RPC, m *metrics.Metrics) *Oracle {
	return &Oracle{
		rpc:     rpc,
		metrics: m,
		cache:   make(map[common.Address]Balance),
		tracked: make(map[common.Address]struct{}),
		dropped: make(map[common.Address]uint64),
		subs:    make(map[int]chan Change),
		polling: make(map[string]struct{}),
	}
}

// Track adds addr to the tracked set.
func (o *Oracle) Track(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracked[addr] = struct{}{}
}

// Untrack removes addr from the tracked set and drops its cached balance.
func (o *Oracle) Untrack(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tracked, addr)
	delete(o.cache, addr)
	o.dropped[addr]++
}

// IsTracked reports whether addr is tracked.
func (o *Oracle) IsTracked(addr common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.tracked[addr]
	return ok
}

// Tracked returns the tracked addresses in ascending order.
func (o *Oracle) Tracked() []common.Address {
	o.mu.RLock()
	out := make([]common.Address, 0, len(o.tracked))
	for a := range o.tracked {
		out = append(out, a)
	}
	o.mu.RUnlock()
	sortAddresses(out)
	return out
}

// Cached returns the last known balance for addr.
func (o *Oracle) Cached(addr common.Address) (Balance, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.cache[addr]
	return b, ok
}

// Subscribe returns a channel of balance changes and a function that
// unsubscribes and closes it.
func (o *Oracle) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			close(ch)
			o.mu.Unlock()
		})
	}
}

// Refresh fetches addr's balance from the chain and merges it into the
// cache. On failure it returns the previous cached value (zero if none) and
// an error wrapping chain.ErrNodeUnavailable; the cache is left untouched.
// Concurrent refreshes of one address share a single read. The shared read
// is not cancelled by any one caller; a caller whose ctx ends stops waiting
// and gets its ctx error.
func (o *Oracle) Refresh(ctx context.Context, addr common.Address) (Balance, error) {
	ch := o.flight.DoChan(addr.Hex(), func() (interface{}, error) {
		return o.fetch(context.WithoutCancel(ctx), addr)
	})
	select {
	case res := <-ch:
		return res.Val.(Balance), res.Err
	case <-ctx.Done():
		prev, _ := o.Cached(addr)
		if prev.Address == (common.Address{}) {
			prev.Address = addr
		}
		return prev, fmt.Errorf("%w: %w", chain.ErrNodeUnavailable, ctx.Err())
	}
}

func (o *Oracle) fetch(ctx context.Context, addr common.Address) (Balance, error) {
	o.mu.RLock()
	gen := o.dropped[addr]
	o.mu.RUnlock()

	wei, err := o.rpc.Balance(ctx, addr)
	if err != nil {
		o.metrics.RefreshResult(false)
		if !errors.Is(err, chain.ErrNodeUnavailable) {
			err = fmt.Errorf("%w: %w", chain.ErrNodeUnavailable, err)
		}
		prev, _ := o.Cached(addr)
		if prev.Address == (common.Address{}) {
			prev.Address = addr
		}
		return prev, err
	}
	o.metrics.RefreshResult(true)
	return o.merge(addr, wei, gen), nil
}

// merge replaces the cached balance only when it differs and notifies
// subscribers of the change. A read that raced an Untrack of addr is
// returned without touching the cache.
func (o *Oracle) merge(addr common.Address, wei *big.Int, gen uint64) Balance {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.dropped[addr] != gen {
		return Balance{Address: addr, Wei: new(big.Int).Set(wei), Amount: types.FromWei(wei), UpdatedAt: time.Now()}
	}

	prev, had := o.cache[addr]
	if had && prev.Wei.Cmp(wei) == 0 {
		return prev
	}

	cur := Balance{
		Address:   addr,
		Wei:       new(big.Int).Set(wei),
		Amount:    types.FromWei(wei),
		UpdatedAt: time.Now(),
	}
	o.cache[addr] = cur
	o.metrics.BalanceChanged()

	change := Change{Address: addr, Current: cur}
	if had {
		p := prev
		change.Previous = &p
	}
	for id, ch := range o.subs {
		select {
		case ch <- change:
		default:
			log.Oracle.Warn().Int("subscriber", id).Str("address", addr.Hex()).Msg("Change dropped, subscriber queue full")
		}
	}

	ev := log.Oracle.Debug().Str("address", addr.Hex()).Str("balance", types.FormatAmount(cur.Amount))
	if had {
		ev = ev.Str("previous", types.FormatAmount(prev.Amount))
	}
	ev.Msg("Balance changed")
	return cur
}

// RefreshAll refreshes every address concurrently. A failure for one
// address does not stop the others; all failures are returned joined.
func (o *Oracle) RefreshAll(ctx context.Context, addrs []common.Address) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(maxConcurrentFetches)
	for _, addr := range addrs {
		g.Go(func() error {
			if _, err := o.Refresh(ctx, addr); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("refresh %s: %w", addr.Hex(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func sortAddresses(a []common.Address) {
	sort.Slice(a, func(i, j int) bool { return a[i].Cmp(a[j]) < 0 })
}
