package oracle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/ethereum/go-ethereum/common"
)

// ErrAlreadyPolling is returned when a poller is already running for the
// same address set.
var ErrAlreadyPolling = errors.New("address set is already being polled")

// trackedSetKey identifies the poller that follows the tracked set.
const trackedSetKey = "tracked"

// Poller runs refresh cycles for one address set.
type Poller struct {
	o        *Oracle
	key      string
	addrs    []common.Address
	interval time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	inFlight atomic.Bool
	cycles   atomic.Uint64
}

// StartPolling refreshes addrs once immediately and then every interval
// until ctx ends or Stop is called. A nil addrs follows the tracked set as
// it changes. Ticks that arrive while a cycle is still running are skipped.
func (o *Oracle) StartPolling(ctx context.Context, addrs []common.Address, interval time.Duration) (*Poller, error) {
	if interval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}

	key := trackedSetKey
	if addrs != nil {
		addrs = dedupe(addrs)
		key = setKey(addrs)
	}

	o.pollMu.Lock()
	if _, ok := o.polling[key]; ok {
		o.pollMu.Unlock()
		return nil, ErrAlreadyPolling
	}
	o.polling[key] = struct{}{}
	o.pollMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{
		o:        o,
		key:      key,
		addrs:    addrs,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.run(ctx)

	log.Oracle.Info().Str("set", key).Dur("interval", interval).Msg("Balance polling started")
	return p, nil
}

// Stop cancels polling and waits for the polling goroutine and any cycle in
// flight to exit. It is safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
	})
	<-p.done
}

// Done is closed once the poller has fully stopped.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Cycles returns the number of completed refresh cycles.
func (p *Poller) Cycles() uint64 { return p.cycles.Load() }

func (p *Poller) run(ctx context.Context) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		p.o.pollMu.Lock()
		delete(p.o.polling, p.key)
		p.o.pollMu.Unlock()
		close(p.done)
		log.Oracle.Info().Str("set", p.key).Msg("Balance polling stopped")
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.kick(ctx, &wg)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.kick(ctx, &wg)
		}
	}
}

// kick starts a cycle unless one is still in flight.
func (p *Poller) kick(ctx context.Context, wg *sync.WaitGroup) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.o.metrics.PollSkip()
		log.Oracle.Debug().Str("set", p.key).Msg("Poll tick skipped, cycle in flight")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.inFlight.Store(false)

		addrs := p.addrs
		if addrs == nil {
			addrs = p.o.Tracked()
		}
		err := p.o.RefreshAll(ctx, addrs)
		p.o.metrics.PollCycle()
		p.cycles.Add(1)
		if err != nil && ctx.Err() == nil {
			log.Oracle.Warn().Err(err).Str("set", p.key).Msg("Poll cycle had failures")
		}
	}()
}

func dedupe(addrs []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(addrs))
	out := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sortAddresses(out)
	return out
}

func setKey(sorted []common.Address) string {
	parts := make([]string, len(sorted))
	for i, a := range sorted {
		parts[i] = a.Hex()
	}
	return strings.Join(parts, ",")
}
