// Package chaintest provides an in-memory chain.RPC for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/Klingon-tech/klingnet-wallet/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ConfirmMode selects how the fake resolves confirmation waits.
type ConfirmMode int

const (
	// ConfirmSuccess mines every broadcast transaction successfully.
	ConfirmSuccess ConfirmMode = iota
	// ConfirmRevert mines transactions with a failed status.
	ConfirmRevert
	// ConfirmTimeout never mines; waits end with chain.ErrNotConfirmed.
	ConfirmTimeout
)

// DefaultChainID is the chain id reported by a new Fake (Hardhat's).
var DefaultChainID = big.NewInt(31337)

// Fake is a scriptable chain.RPC. The zero value is not usable; use New.
type Fake struct {
	mu sync.Mutex

	balances    map[common.Address]*big.Int
	balanceErrs map[common.Address]error
	nonces      map[common.Address]uint64
	receipts    map[common.Hash]*chain.Receipt

	// Queued errors returned by successive calls before they succeed.
	paramErrs     []error
	broadcastErrs []error
	lostReplies   int

	gasPrice    *big.Int
	chainID     *big.Int
	confirmMode ConfirmMode

	calls      int
	broadcasts []*types.Transaction

	// BroadcastGate, when non-nil, blocks Broadcast until it can receive.
	BroadcastGate chan struct{}
}

// New returns a fake with no balances and a 1 gwei gas price.
func New() *Fake {
	return &Fake{
		balances:    make(map[common.Address]*big.Int),
		balanceErrs: make(map[common.Address]error),
		nonces:      make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*chain.Receipt),
		gasPrice:    big.NewInt(1_000_000_000),
		chainID:     new(big.Int).Set(DefaultChainID),
	}
}

// SetBalance sets addr's balance in wei.
func (f *Fake) SetBalance(addr common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = new(big.Int).Set(wei)
}

// FailBalance makes balance reads for addr fail with err until cleared
// with a nil err.
func (f *Fake) FailBalance(addr common.Address, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.balanceErrs, addr)
		return
	}
	f.balanceErrs[addr] = err
}

// QueueParamErrors makes the next len(errs) nonce/gas/chain id calls fail.
func (f *Fake) QueueParamErrors(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paramErrs = append(f.paramErrs, errs...)
}

// QueueBroadcastErrors makes the next len(errs) broadcasts fail.
func (f *Fake) QueueBroadcastErrors(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastErrs = append(f.broadcastErrs, errs...)
}

// LoseReplies makes the next n accepted broadcasts fail with
// chain.ErrNodeUnavailable after the node has applied them, as if the reply
// was lost. The node does not remember the bytes, so a resend is rejected
// as nonce too low.
func (f *Fake) LoseReplies(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lostReplies += n
}

// SetConfirmMode selects how later broadcasts are mined.
func (f *Fake) SetConfirmMode(m ConfirmMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmMode = m
}

// Mine records a receipt for hash, as if mined after a timeout.
func (f *Fake) Mine(hash common.Hash, success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &chain.Receipt{TxHash: hash, BlockNumber: 1, Success: success}
}

// Calls returns the number of RPC calls made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Broadcasts returns the transactions accepted by Broadcast, including
// resubmissions.
func (f *Fake) Broadcasts() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.broadcasts...)
}

func (f *Fake) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.balanceErrs[addr]; err != nil {
		return nil, err
	}
	if b, ok := f.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *Fake) popParamErr() error {
	f.calls++
	if len(f.paramErrs) == 0 {
		return nil
	}
	err := f.paramErrs[0]
	f.paramErrs = f.paramErrs[1:]
	return err
}

func (f *Fake) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popParamErr(); err != nil {
		return 0, err
	}
	return f.nonces[addr], nil
}

func (f *Fake) GasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popParamErr(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *Fake) ChainID(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popParamErr(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(f.chainID), nil
}

func (f *Fake) Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if f.BroadcastGate != nil {
		select {
		case <-f.BroadcastGate:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.broadcastErrs) > 0 {
		err := f.broadcastErrs[0]
		f.broadcastErrs = f.broadcastErrs[1:]
		return common.Hash{}, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", chain.ErrBroadcastRejected, err)
	}
	f.broadcasts = append(f.broadcasts, tx)

	for _, prev := range f.broadcasts[:len(f.broadcasts)-1] {
		if prev.Hash() == tx.Hash() {
			return tx.Hash(), nil
		}
	}
	if tx.Nonce() != f.nonces[from] {
		return common.Hash{}, fmt.Errorf("%w: nonce too low", chain.ErrBroadcastRejected)
	}
	f.nonces[from]++

	switch f.confirmMode {
	case ConfirmSuccess:
		f.applyTransfer(from, tx)
		f.receipts[tx.Hash()] = &chain.Receipt{TxHash: tx.Hash(), BlockNumber: 1, Success: true}
	case ConfirmRevert:
		f.receipts[tx.Hash()] = &chain.Receipt{TxHash: tx.Hash(), BlockNumber: 1, Success: false}
	case ConfirmTimeout:
	}
	if f.lostReplies > 0 {
		f.lostReplies--
		f.broadcasts = f.broadcasts[:len(f.broadcasts)-1]
		return common.Hash{}, fmt.Errorf("%w: connection reset", chain.ErrNodeUnavailable)
	}
	return tx.Hash(), nil
}

func (f *Fake) applyTransfer(from common.Address, tx *types.Transaction) {
	bal := f.balances[from]
	if bal == nil {
		bal = new(big.Int)
	}
	f.balances[from] = new(big.Int).Sub(bal, tx.Value())

	to := *tx.To()
	dst := f.balances[to]
	if dst == nil {
		dst = new(big.Int)
	}
	f.balances[to] = new(big.Int).Add(dst, tx.Value())
}

func (f *Fake) Receipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r, ok := f.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrReceiptNotFound, hash.Hex())
	}
	cp := *r
	return &cp, nil
}

func (f *Fake) WaitForConfirmation(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	r, err := f.Receipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", chain.ErrNotConfirmed, hash.Hex())
	}
	return r, nil
}

var _ chain.RPC = (*Fake)(nil)
