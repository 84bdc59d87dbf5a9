package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/chain"
	"github.com/Klingon-tech/klingnet-wallet/internal/chain/chaintest"
	"github.com/Klingon-tech/klingnet-wallet/internal/metrics"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	addrC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func ether(s string) *big.Int {
	return types.ToWei(decimal.RequireFromString(s))
}

// gatedRPC blocks balance reads until release is closed and counts them.
type gatedRPC struct {
	*chaintest.Fake
	release chan struct{}
	reads   atomic.Int32
}

func (g *gatedRPC) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	g.reads.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Fake.Balance(ctx, addr)
}

func TestRefresh_CachesChainValue(t *testing.T) {
	rpc := chaintest.New()
	rpc.SetBalance(addrA, ether("1.25"))
	o := New(rpc, nil)

	_, ok := o.Cached(addrA)
	assert.False(t, ok)

	b, err := o.Refresh(context.Background(), addrA)
	require.NoError(t, err)
	assert.Equal(t, "1.25", b.Amount.String())

	cached, ok := o.Cached(addrA)
	require.True(t, ok)
	assert.Equal(t, 0, cached.Wei.Cmp(ether("1.25")))
	assert.True(t, cached.Known())
}

func TestRefresh_FailureKeepsPreviousValue(t *testing.T) {
	rpc := chaintest.New()
	rpc.SetBalance(addrA, ether("1.0"))
	o := New(rpc, nil)

	_, err := o.Refresh(context.Background(), addrA)
	require.NoError(t, err)

	rpc.FailBalance(addrA, errors.New("connection refused"))
	b, err := o.Refresh(context.Background(), addrA)
	assert.ErrorIs(t, err, chain.ErrNodeUnavailable)
	assert.Equal(t, "1", b.Amount.String())

	cached, ok := o.Cached(addrA)
	require.True(t, ok)
	assert.Equal(t, "1", cached.Amount.String())
}

func TestRefresh_FailureWithoutCache(t *testing.T) {
	rpc := chaintest.New()
	rpc.FailBalance(addrA, chain.ErrNodeUnavailable)
	o := New(rpc, nil)

	b, err := o.Refresh(context.Background(), addrA)
	assert.ErrorIs(t, err, chain.ErrNodeUnavailable)
	assert.False(t, b.Known())
	assert.Equal(t, addrA, b.Address)
	_, ok := o.Cached(addrA)
	assert.False(t, ok)
}

func TestRefresh_ChangeEventsOnlyOnDifference(t *testing.T) {
	rpc := chaintest.New()
	m := metrics.New(nil)
	o := New(rpc, m)
	changes, unsubscribe := o.Subscribe()
	defer unsubscribe()

	rpc.SetBalance(addrA, ether("1.0"))
	_, err := o.Refresh(context.Background(), addrA)
	require.NoError(t, err)
	first := <-changes
	assert.Nil(t, first.Previous)
	assert.Equal(t, "1.0", types.FormatAmount(first.Current.Amount))

	// Same value again: silent.
	_, err = o.Refresh(context.Background(), addrA)
	require.NoError(t, err)
	select {
	case c := <-changes:
		t.Fatalf("unexpected change event: %+v", c)
	default:
	}

	rpc.SetBalance(addrA, ether("0.5"))
	b, err := o.Refresh(context.Background(), addrA)
	require.NoError(t, err)
	assert.Equal(t, "0.5", b.Amount.String())

	c := <-changes
	require.NotNil(t, c.Previous)
	assert.Equal(t, "1", c.Previous.Amount.String())
	assert.Equal(t, "0.5", c.Current.Amount.String())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BalanceChanges))
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	o := New(chaintest.New(), nil)
	ch, unsubscribe := o.Subscribe()
	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestRefresh_Singleflight(t *testing.T) {
	rpc := &gatedRPC{Fake: chaintest.New(), release: make(chan struct{})}
	rpc.SetBalance(addrA, ether("2"))
	o := New(rpc, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := o.Refresh(context.Background(), addrA)
			assert.NoError(t, err)
			assert.Equal(t, "2", b.Amount.String())
		}()
	}
	require.Eventually(t, func() bool { return rpc.reads.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(rpc.release)
	wg.Wait()

	assert.Equal(t, int32(1), rpc.reads.Load())
}

func TestRefreshAll_IsolatesFailures(t *testing.T) {
	rpc := chaintest.New()
	rpc.SetBalance(addrA, ether("1"))
	rpc.SetBalance(addrB, ether("2"))
	rpc.SetBalance(addrC, ether("3"))
	rpc.FailBalance(addrB, errors.New("timeout"))
	o := New(rpc, nil)

	err := o.RefreshAll(context.Background(), []common.Address{addrA, addrB, addrC})
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrNodeUnavailable)
	assert.Contains(t, err.Error(), addrB.Hex())
	assert.NotContains(t, err.Error(), addrA.Hex())

	a, ok := o.Cached(addrA)
	require.True(t, ok)
	assert.Equal(t, "1", a.Amount.String())
	c, ok := o.Cached(addrC)
	require.True(t, ok)
	assert.Equal(t, "3", c.Amount.String())
	_, ok = o.Cached(addrB)
	assert.False(t, ok)
}

func TestTrackUntrack(t *testing.T) {
	rpc := chaintest.New()
	o := New(rpc, nil)
	o.Track(addrB)
	o.Track(addrA)
	o.Track(addrA)
	assert.Equal(t, []common.Address{addrA, addrB}, o.Tracked())
	assert.True(t, o.IsTracked(addrA))

	_, err := o.Refresh(context.Background(), addrA)
	require.NoError(t, err)
	o.Untrack(addrA)
	assert.False(t, o.IsTracked(addrA))
	_, ok := o.Cached(addrA)
	assert.False(t, ok)
}

func TestRefresh_CancelledCallerDoesNotFailSharedRead(t *testing.T) {
	rpc := &gatedRPC{Fake: chaintest.New(), release: make(chan struct{})}
	rpc.SetBalance(addrA, ether("2"))
	o := New(rpc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := o.Refresh(ctx, addrA)
		first <- err
	}()
	require.Eventually(t, func() bool { return rpc.reads.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		b   Balance
		err error
	}
	second := make(chan result, 1)
	go func() {
		b, err := o.Refresh(context.Background(), addrA)
		second <- result{b, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, chain.ErrNodeUnavailable)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(rpc.release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, "2", r.b.Amount.String())
	case <-time.After(time.Second):
		t.Fatal("shared read did not finish")
	}
	assert.Equal(t, int32(1), rpc.reads.Load())
	cached, ok := o.Cached(addrA)
	require.True(t, ok)
	assert.Equal(t, "2", cached.Amount.String())
}

func TestRefresh_UntrackDuringReadLeavesCacheEmpty(t *testing.T) {
	rpc := &gatedRPC{Fake: chaintest.New(), release: make(chan struct{})}
	rpc.SetBalance(addrA, ether("3"))
	o := New(rpc, nil)
	o.Track(addrA)

	done := make(chan Balance, 1)
	go func() {
		b, err := o.Refresh(context.Background(), addrA)
		assert.NoError(t, err)
		done <- b
	}()
	require.Eventually(t, func() bool { return rpc.reads.Load() == 1 }, time.Second, time.Millisecond)

	o.Untrack(addrA)
	close(rpc.release)
	b := <-done
	assert.Equal(t, "3", b.Amount.String())

	_, ok := o.Cached(addrA)
	assert.False(t, ok)
	assert.False(t, o.IsTracked(addrA))

	o.Track(addrA)
	_, err := o.Refresh(context.Background(), addrA)
	require.NoError(t, err)
	_, ok = o.Cached(addrA)
	assert.True(t, ok)
}
