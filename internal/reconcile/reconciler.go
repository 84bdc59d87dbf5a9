package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-wallet/internal/chain"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
)

// Report summarizes one reconciliation pass.
type Report struct {
	// Recorded counts rows inserted into the ledger.
	Recorded int `json:"recorded"`
	// AlreadyPresent counts entries whose row was found in the ledger.
	AlreadyPresent int `json:"already_present"`
	// Dropped counts entries discarded because the transfer reverted or
	// the wallet no longer exists.
	Dropped int `json:"dropped"`
	// Remaining counts entries still waiting after the pass.
	Remaining int `json:"remaining"`
}

// Reconciler drains the journal against the chain and the ledger.
type Reconciler struct {
	journal *Journal
	rpc     chain.RPC
	ledger  ledger.Ledger
}

// NewReconciler creates a reconciler.
func NewReconciler(j *Journal, rpc chain.RPC, l ledger.Ledger) *Reconciler {
	return &Reconciler{journal: j, rpc: rpc, ledger: l}
}

// Run makes one pass over the journal. Entries that cannot be settled yet
// stay in the journal with their attempt count bumped. Running it again
// after success changes nothing.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report
	entries, err := r.journal.List()
	if err != nil {
		return rep, err
	}

	var errs []error
	for _, e := range entries {
		if ctx.Err() != nil {
			rep.Remaining++
			continue
		}
		settled, err := r.settle(ctx, e, &rep)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", e.TxHash.Hex(), err))
		}
		if !settled {
			rep.Remaining++
		}
	}

	if len(entries) > 0 {
		log.Reconcile.Info().
			Int("recorded", rep.Recorded).
			Int("present", rep.AlreadyPresent).
			Int("dropped", rep.Dropped).
			Int("remaining", rep.Remaining).
			Msg("Reconcile pass finished")
	}
	return rep, errors.Join(errs...)
}

// settle advances one entry and reports whether it left the journal.
func (r *Reconciler) settle(ctx context.Context, e Entry, rep *Report) (bool, error) {
	l := log.Reconcile.With().Str("wallet", string(e.WalletID)).Str("tx", e.TxHash.Hex()).Logger()

	if e.Kind == KindConfirmation {
		receipt, err := r.rpc.Receipt(ctx, e.TxHash)
		switch {
		case err != nil:
			return false, r.bump(e, err)
		case !receipt.Success:
			l.Warn().Msg("Transfer reverted on chain, dropping entry")
			rep.Dropped++
			return true, r.journal.Remove(e)
		}
		e.Kind = KindLedgerWrite
		e.LastError = ""
		if err := r.journal.Record(e); err != nil {
			return false, err
		}
		l.Info().Uint64("block", receipt.BlockNumber).Msg("Transfer confirmed, awaiting ledger write")
	}

	_, err := ledger.FindByHash(ctx, r.ledger, e.WalletID, e.TxHash.Hex(), e.Type)
	if err == nil {
		rep.AlreadyPresent++
		return true, r.journal.Remove(e)
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return false, r.bump(e, err)
	}

	if _, err := r.ledger.CreateTransaction(ctx, e.Transaction()); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			l.Warn().Msg("Wallet no longer in ledger, dropping its entries")
			n, rerr := r.journal.RemoveWallet(e.WalletID)
			rep.Dropped += n
			return true, rerr
		}
		return false, r.bump(e, err)
	}

	l.Info().Str("type", e.Type.String()).Msg("Ledger row reconciled")
	rep.Recorded++
	return true, r.journal.Remove(e)
}

func (r *Reconciler) bump(e Entry, cause error) error {
	e.Attempts++
	e.LastError = cause.Error()
	if err := r.journal.Record(e); err != nil {
		return err
	}
	if errors.Is(cause, chain.ErrReceiptNotFound) {
		return nil
	}
	return cause
}
