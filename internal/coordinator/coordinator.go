// Package coordinator runs the send protocol: sign, broadcast and confirm a
// transfer on chain, then record it in the ledger, reconciling on partial
// failure.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/chain"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/metrics"
	"github.com/Klingon-tech/klingnet-wallet/internal/oracle"
	"github.com/Klingon-tech/klingnet-wallet/internal/reconcile"
	"github.com/Klingon-tech/klingnet-wallet/internal/registry"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Keys resolves signers.
type Keys interface {
	Signer(walletID string) (wallet.Signer, error)
}

// Wallets is the part of the registry the coordinator uses.
type Wallets interface {
	Get(id ledger.ID) (*registry.Wallet, error)
	FindByAddress(addr common.Address) (*registry.Wallet, bool)
	SetConnected(id ledger.ID, connected bool)
}

// Balances is the part of the oracle the coordinator uses.
type Balances interface {
	Refresh(ctx context.Context, addr common.Address) (oracle.Balance, error)
	IsTracked(addr common.Address) bool
}

// Journal records transfers left for the reconciler.
type Journal interface {
	Record(e reconcile.Entry) error
}

// Config bounds the coordinator's retries.
type Config struct {
	// ParamRetries bounds retries of nonce, gas price and chain id reads.
	ParamRetries int
	// BroadcastRetries bounds resubmissions of the signed bytes.
	BroadcastRetries int
	// LedgerRetries bounds retries of the ledger insert.
	LedgerRetries int
	RetryInitial  time.Duration
	RetryMax      time.Duration
	// RecordReceive stores a RECEIVE row when the recipient is a
	// registered wallet.
	RecordReceive bool
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		ParamRetries:     4,
		BroadcastRetries: 4,
		LedgerRetries:    5,
		RetryInitial:     200 * time.Millisecond,
		RetryMax:         5 * time.Second,
		RecordReceive:    true,
	}
}

// Coordinator serializes transfers per wallet and drives each through the
// send protocol.
type Coordinator struct {
	rpc      chain.RPC
	ledger   ledger.Ledger
	keys     Keys
	wallets  Wallets
	balances Balances
	journal  Journal
	metrics  *metrics.Metrics
	cfg      Config

	mu   sync.Mutex
	busy map[ledger.ID]struct{}
}

// New creates a coordinator. m may be nil.
func New(rpc chain.RPC, l ledger.Ledger, keys Keys, wallets Wallets, balances Balances, j Journal, m *metrics.Metrics, cfg Config) *Coordinator {
	return &Coordinator{
		rpc:      rpc,
		ledger:   l,
		keys:     keys,
		wallets:  wallets,
		balances: balances,
		journal:  j,
		metrics:  m,
		cfg:      cfg,
		busy:     make(map[ledger.ID]struct{}),
	}
}

// acquire marks the wallet busy without waiting. release clears the mark,
// so the set only holds wallets with a transfer in flight.
func (c *Coordinator) acquire(id ledger.ID) (release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.busy[id]; held {
		return nil, false
	}
	c.busy[id] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.busy, id)
		c.mu.Unlock()
	}, true
}

// transfer tracks one CreateTransfer call.
type transfer struct {
	walletID ledger.ID
	state    State
	from     common.Address
	to       common.Address
	amount   decimal.Decimal
	hash     common.Hash
	log      zerolog.Logger
}

func (t *transfer) advance(next State) {
	if !t.state.CanTransition(next) {
		panic(fmt.Sprintf("coordinator: invalid transition %s -> %s", t.state, next))
	}
	t.log.Debug().Str("from", t.state.String()).Str("to", next.String()).Msg("Transfer state")
	t.state = next
}

// CreateTransfer sends amount (a decimal coin string such as "0.5") from
// the wallet to the recipient address and records it in the ledger.
//
// Before broadcast, any error means no funds moved. After broadcast the
// caller's cancellation is ignored, and the outcome is either a COMPLETED
// transaction, ErrBroadcastRejected for a reverted transfer, a
// *PendingError when confirmation is unknown, or a *LedgerWriteError when
// funds moved but the row is pending. The latter two are journaled.
func (c *Coordinator) CreateTransfer(ctx context.Context, walletID ledger.ID, to, amount string) (*ledger.Transaction, error) {
	start := time.Now()

	release, ok := c.acquire(walletID)
	if !ok {
		c.metrics.TransferOutcome("busy", 0)
		return nil, fmt.Errorf("%w: %s", ErrTransferInProgress, walletID)
	}
	defer release()

	t := &transfer{
		walletID: walletID,
		state:    StateInitiated,
		log:      log.WithWallet(log.Coordinator, string(walletID)),
	}
	rec, err := c.run(ctx, t, to, amount)

	outcome := "completed"
	var pending *PendingError
	var lw *LedgerWriteError
	switch {
	case err == nil:
	case errors.As(err, &pending):
		outcome = "pending"
	case errors.As(err, &lw):
		outcome = "ledger_write_failed"
	default:
		outcome = "failed"
	}
	c.metrics.TransferOutcome(outcome, time.Since(start).Seconds())
	if err != nil {
		t.log.Warn().Err(err).Str("state", t.state.String()).Msg("Transfer did not complete")
	}
	return rec, err
}

func (c *Coordinator) run(ctx context.Context, t *transfer, to, amount string) (*ledger.Transaction, error) {
	w, err := c.wallets.Get(t.walletID)
	if err != nil {
		t.advance(StateFailed)
		return nil, err
	}

	signer, err := c.keys.Signer(string(t.walletID))
	if err != nil {
		t.advance(StateFailed)
		if errors.Is(err, wallet.ErrKeyNotFound) {
			c.wallets.SetConnected(t.walletID, false)
		}
		return nil, err
	}
	defer signer.Release()
	if signer.Address() != w.Address {
		t.advance(StateFailed)
		return nil, fmt.Errorf("%w: wallet %s", wallet.ErrAddressMismatch, t.walletID)
	}

	toAddr, amt, err := validate(to, amount)
	if err != nil {
		t.advance(StateFailed)
		return nil, err
	}
	t.from, t.to, t.amount = w.Address, toAddr, amt
	t.log = t.log.With().Str("to", toAddr.Hex()).Str("amount", types.FormatAmount(amt)).Logger()

	signed, err := c.sign(ctx, t, signer)
	if err != nil {
		t.advance(StateFailed)
		return nil, err
	}
	t.advance(StateSigned)
	t.hash = signed.Hash()

	// Past this point the transfer may be on chain.
	dctx := context.WithoutCancel(ctx)

	// unanswered is set once an attempt failed without a reply. The node
	// may have accepted those bytes, so a later rejection of the resend
	// (nonce too low, already known) says nothing about the first one.
	var unanswered bool
	hash, err := retryChain(dctx, c.backOff(dctx, c.cfg.BroadcastRetries), func(ctx context.Context) (common.Hash, error) {
		h, err := c.rpc.Broadcast(ctx, signed)
		if errors.Is(err, chain.ErrNodeUnavailable) {
			unanswered = true
		}
		return h, err
	})
	var receipt *chain.Receipt
	switch {
	case errors.Is(err, chain.ErrNodeUnavailable):
		return nil, c.pending(t, err)
	case err != nil && unanswered:
		r, rerr := c.rpc.Receipt(dctx, t.hash)
		if rerr != nil {
			return nil, c.pending(t, fmt.Errorf("resend rejected after unanswered broadcast: %v", err))
		}
		t.log.Info().Err(err).Msg("Resend rejected but earlier broadcast was mined")
		hash, receipt = t.hash, r
	case err != nil:
		t.advance(StateFailed)
		return nil, err
	}
	t.advance(StateBroadcast)
	t.log.Info().Str("tx", hash.Hex()).Msg("Transfer broadcast")

	if receipt == nil {
		receipt, err = c.rpc.WaitForConfirmation(dctx, hash)
		if err != nil {
			return nil, c.pending(t, err)
		}
	}
	if !receipt.Success {
		t.advance(StateFailed)
		return nil, fmt.Errorf("%w: transaction %s reverted in block %d", chain.ErrBroadcastRejected, hash.Hex(), receipt.BlockNumber)
	}
	t.advance(StateConfirmed)
	defer c.refreshAfter(dctx, t)

	rec, err := c.recordWithRetry(dctx, c.row(t, t.walletID, ledger.TxSend))
	if err != nil {
		c.journalEntry(t, reconcile.KindLedgerWrite, t.walletID, ledger.TxSend, err)
		if dst, ok := c.receiver(t); ok {
			c.journalEntry(t, reconcile.KindLedgerWrite, dst, ledger.TxReceive, err)
		}
		return nil, &LedgerWriteError{WalletID: t.walletID, TxHash: hash, Err: err}
	}
	t.advance(StateRecorded)
	t.log.Info().Str("tx", hash.Hex()).Str("row", string(rec.ID)).Msg("Transfer recorded")

	c.recordReceive(dctx, t)
	return rec, nil
}

func validate(to, amount string) (common.Address, decimal.Decimal, error) {
	addr, err := types.ParseAddress(to)
	if err != nil {
		return common.Address{}, decimal.Decimal{}, fmt.Errorf("%w: %w", ErrInvalidTransferParams, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, decimal.Decimal{}, fmt.Errorf("%w: zero address recipient", ErrInvalidTransferParams)
	}
	amt, err := types.ParseAmount(amount)
	if err != nil {
		return common.Address{}, decimal.Decimal{}, fmt.Errorf("%w: %w", ErrInvalidTransferParams, err)
	}
	return addr, amt, nil
}

// sign fetches the nonce, gas price and chain id, retrying transient node
// failures, and signs a value transfer.
func (c *Coordinator) sign(ctx context.Context, t *transfer, signer wallet.Signer) (*ethtypes.Transaction, error) {
	nonce, err := retryChain(ctx, c.backOff(ctx, c.cfg.ParamRetries), func(ctx context.Context) (uint64, error) {
		return c.rpc.Nonce(ctx, t.from)
	})
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := retryChain(ctx, c.backOff(ctx, c.cfg.ParamRetries), c.rpc.GasPrice)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}
	chainID, err := retryChain(ctx, c.backOff(ctx, c.cfg.ParamRetries), c.rpc.ChainID)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	tx := chain.NewTransfer(nonce, t.to, types.ToWei(t.amount), gasPrice)
	signed, err := signer.SignTx(tx, chainID)
	if err != nil {
		return nil, err
	}
	t.log.Debug().Uint64("nonce", nonce).Str("gas_price", gasPrice.String()).Msg("Transfer signed")
	return signed, nil
}

// pending journals a broadcast whose outcome is unknown, for the sender
// and for a registered recipient.
func (c *Coordinator) pending(t *transfer, cause error) error {
	c.journalEntry(t, reconcile.KindConfirmation, t.walletID, ledger.TxSend, cause)
	if dst, ok := c.receiver(t); ok {
		c.journalEntry(t, reconcile.KindConfirmation, dst, ledger.TxReceive, cause)
	}
	return &PendingError{WalletID: t.walletID, TxHash: t.hash, Err: cause}
}

func (c *Coordinator) row(t *transfer, walletID ledger.ID, typ ledger.TxType) ledger.NewTransaction {
	return ledger.NewTransaction{
		WalletID:    walletID,
		Type:        typ,
		Amount:      t.amount,
		FromAddress: t.from.Hex(),
		ToAddress:   t.to.Hex(),
		TxHash:      t.hash.Hex(),
		Status:      ledger.StatusCompleted,
	}
}

// recordWithRetry inserts a row, retrying transient failures. Before every
// retry it looks for the row by hash, since a failed call may still have
// been committed.
func (c *Coordinator) recordWithRetry(ctx context.Context, row ledger.NewTransaction) (*ledger.Transaction, error) {
	attempt := 0
	return backoff.RetryWithData(func() (*ledger.Transaction, error) {
		if attempt > 0 {
			c.metrics.LedgerRetry()
			existing, err := ledger.FindByHash(ctx, c.ledger, row.WalletID, row.TxHash, row.Type)
			if err == nil {
				return existing, nil
			}
			if !errors.Is(err, ledger.ErrNotFound) {
				return nil, err
			}
		}
		attempt++

		rec, err := c.ledger.CreateTransaction(ctx, row)
		if err != nil && !ledger.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return rec, err
	}, c.backOff(ctx, c.cfg.LedgerRetries))
}

// recordReceive stores the recipient's RECEIVE row when the recipient is a
// registered wallet. Failure is journaled, not returned.
func (c *Coordinator) recordReceive(ctx context.Context, t *transfer) {
	dst, ok := c.receiver(t)
	if !ok {
		return
	}
	if _, err := c.recordWithRetry(ctx, c.row(t, dst, ledger.TxReceive)); err != nil {
		c.journalEntry(t, reconcile.KindLedgerWrite, dst, ledger.TxReceive, err)
	}
}

// receiver returns the registered wallet that gets a RECEIVE row for t.
func (c *Coordinator) receiver(t *transfer) (ledger.ID, bool) {
	if !c.cfg.RecordReceive {
		return "", false
	}
	dst, ok := c.wallets.FindByAddress(t.to)
	if !ok || dst.ID == t.walletID {
		return "", false
	}
	return dst.ID, true
}

func (c *Coordinator) journalEntry(t *transfer, kind reconcile.Kind, walletID ledger.ID, typ ledger.TxType, cause error) {
	e := reconcile.Entry{
		Kind:        kind,
		WalletID:    walletID,
		TxHash:      t.hash,
		Type:        typ,
		Amount:      t.amount,
		FromAddress: t.from.Hex(),
		ToAddress:   t.to.Hex(),
		Attempts:    1,
		LastError:   cause.Error(),
	}
	if err := c.journal.Record(e); err != nil {
		t.log.Error().Err(err).Str("tx", t.hash.Hex()).Msg("Could not journal transfer, reconcile by hash manually")
		return
	}
	t.log.Warn().Str("tx", t.hash.Hex()).Str("kind", string(kind)).Msg("Transfer journaled for reconciliation")
}

// refreshAfter refreshes the sender and a tracked recipient. Failures only
// leave the cached balances stale.
func (c *Coordinator) refreshAfter(ctx context.Context, t *transfer) {
	addrs := []common.Address{t.from}
	if t.to != t.from && c.balances.IsTracked(t.to) {
		addrs = append(addrs, t.to)
	}
	for _, a := range addrs {
		if _, err := c.balances.Refresh(ctx, a); err != nil {
			t.log.Debug().Err(err).Str("address", a.Hex()).Msg("Post-transfer refresh failed")
		}
	}
}

// History returns the wallet's ledger transactions, newest first.
func (c *Coordinator) History(ctx context.Context, walletID ledger.ID) ([]ledger.Transaction, error) {
	txs, err := c.ledger.ListTransactions(ctx, walletID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", registry.ErrWalletNotFound, walletID)
	}
	return txs, err
}

// Estimate returns the fee of a value transfer at the current gas price.
func (c *Coordinator) Estimate(ctx context.Context) (decimal.Decimal, error) {
	price, err := c.rpc.GasPrice(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return types.FromWei(new(big.Int).Mul(price, big.NewInt(chain.TransferGas))), nil
}
