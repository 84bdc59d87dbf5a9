package reconcile

import (
	"context"
	"net/http"
	"testing"

	"github.com/Klingon-tech/klingnet-wallet/internal/chain/chaintest"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger/ledgertest"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *ledgertest.Service
	ledger  *ledger.Client
	rpc     *chaintest.Fake
	journal *Journal
	rec     *Reconciler
	wallet  ledger.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := ledgertest.New("")
	srv := svc.Start()
	t.Cleanup(srv.Close)

	f := &fixture{
		svc:     svc,
		ledger:  ledger.New(srv.URL),
		rpc:     chaintest.New(),
		journal: NewJournal(storage.NewMemory(), nil),
	}
	f.rec = NewReconciler(f.journal, f.rpc, f.ledger)

	w, err := f.ledger.CreateWallet(context.Background(), ledger.NewWallet{
		OwnerID:  "u1",
		Currency: "ETH",
		Address:  "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
	})
	require.NoError(t, err)
	f.wallet = w.ID
	return f
}

func (f *fixture) entries(t *testing.T) []Entry {
	t.Helper()
	got, err := f.journal.List()
	require.NoError(t, err)
	return got
}

func TestReconciler_EmptyJournal(t *testing.T) {
	f := newFixture(t)
	rep, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Equal(t, 0, f.rpc.Calls())
}

func TestReconciler_WritesMissingRow(t *testing.T) {
	f := newFixture(t)
	e := entry(f.wallet, 1, KindLedgerWrite)
	require.NoError(t, f.journal.Record(e))

	rep, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Recorded: 1}, rep)

	rows := f.svc.Transactions(f.wallet)
	require.Len(t, rows, 1)
	assert.Equal(t, e.TxHash.Hex(), rows[0].TxHash)
	assert.Equal(t, ledger.StatusCompleted, rows[0].Status)
	assert.Empty(t, f.entries(t))
}

func TestReconciler_RowAlreadyPresent(t *testing.T) {
	f := newFixture(t)
	e := entry(f.wallet, 1, KindLedgerWrite)
	_, err := f.ledger.CreateTransaction(context.Background(), e.Transaction())
	require.NoError(t, err)
	require.NoError(t, f.journal.Record(e))

	rep, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{AlreadyPresent: 1}, rep)
	assert.Len(t, f.svc.Transactions(f.wallet), 1)
	assert.Equal(t, 1, f.svc.Calls(ledgertest.RouteCreateTransaction))
}

func TestReconciler_LedgerStillDown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.journal.Record(entry(f.wallet, 1, KindLedgerWrite)))
	f.svc.Fail(ledgertest.RouteCreateTransaction, ledgertest.Fault{Status: http.StatusInternalServerError})

	rep, err := f.rec.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Report{Remaining: 1}, rep)

	left := f.entries(t)
	require.Len(t, left, 1)
	assert.Equal(t, 2, left[0].Attempts)
	assert.NotEmpty(t, left[0].LastError)

	rep, err = f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Recorded: 1}, rep)
}

func TestReconciler_ConfirmationPending(t *testing.T) {
	f := newFixture(t)
	e := entry(f.wallet, 1, KindConfirmation)
	require.NoError(t, f.journal.Record(e))

	rep, err := f.rec.Run(context.Background())
	require.NoError(t, err, "an unmined transaction is not an error")
	assert.Equal(t, Report{Remaining: 1}, rep)
	assert.Equal(t, 0, f.svc.Calls(ledgertest.RouteCreateTransaction))

	f.rpc.Mine(e.TxHash, true)
	rep, err = f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Recorded: 1}, rep)
	assert.Len(t, f.svc.Transactions(f.wallet), 1)
}

func TestReconciler_RevertedIsDropped(t *testing.T) {
	f := newFixture(t)
	e := entry(f.wallet, 1, KindConfirmation)
	require.NoError(t, f.journal.Record(e))
	f.rpc.Mine(e.TxHash, false)

	rep, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Dropped: 1}, rep)
	assert.Empty(t, f.svc.Transactions(f.wallet))
	assert.Empty(t, f.entries(t))
}

func TestReconciler_ReceiveConfirmation(t *testing.T) {
	f := newFixture(t)
	dst, err := f.ledger.CreateWallet(context.Background(), ledger.NewWallet{
		OwnerID:  "u2",
		Currency: "ETH",
		Address:  "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	})
	require.NoError(t, err)

	send := entry(f.wallet, 1, KindConfirmation)
	recv := send
	recv.WalletID = dst.ID
	recv.Type = ledger.TxReceive
	require.NoError(t, f.journal.Record(send))
	require.NoError(t, f.journal.Record(recv))
	require.Len(t, f.entries(t), 2)

	f.rpc.Mine(send.TxHash, true)
	rep, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Recorded: 2}, rep)
	assert.Empty(t, f.entries(t))

	rows := f.svc.Transactions(dst.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.TxReceive, rows[0].Type)
	assert.Equal(t, send.TxHash.Hex(), rows[0].TxHash)
	assert.Len(t, f.svc.Transactions(f.wallet), 1)
}

func TestReconciler_RevertedReceiveIsDropped(t *testing.T) {
	f := newFixture(t)
	recv := entry("w-recipient", 1, KindConfirmation)
	recv.Type = ledger.TxReceive
	require.NoError(t, f.journal.Record(recv))
	f.rpc.Mine(recv.TxHash, false)

	rep, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Dropped: 1}, rep)
	assert.Empty(t, f.entries(t))
	assert.Equal(t, 0, f.svc.Calls(ledgertest.RouteCreateTransaction))
}

func TestReconciler_DeletedWalletIsDropped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.journal.Record(entry(f.wallet, 1, KindLedgerWrite)))
	require.NoError(t, f.ledger.DeleteWallet(context.Background(), f.wallet))

	rep, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Dropped: 1}, rep)
	assert.Empty(t, f.entries(t))
}

func TestReconciler_Cancelled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.journal.Record(entry(f.wallet, 1, KindLedgerWrite)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Remaining: 1}, rep)
	assert.Len(t, f.entries(t), 1)
}
