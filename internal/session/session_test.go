package session

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/config"
	"github.com/Klingon-tech/klingnet-wallet/internal/chain/chaintest"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger/ledgertest"
	"github.com/Klingon-tech/klingnet-wallet/internal/reconcile"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	cfg    *config.Config
	db     *storage.MemoryDB
	rpc    *chaintest.Fake
	svc    *ledgertest.Service
	ledger *ledger.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc := ledgertest.New("")
	srv := svc.Start()
	t.Cleanup(srv.Close)

	cfg := config.DefaultDev()
	cfg.DataDir = t.TempDir()
	cfg.Owner = "u1"
	cfg.Poll.Interval = 10 * time.Millisecond
	cfg.Reconcile.Interval = 10 * time.Millisecond
	cfg.Transfer.RetryInitial = time.Millisecond
	cfg.Transfer.RetryMax = 2 * time.Millisecond

	return &harness{
		cfg:    cfg,
		db:     storage.NewMemory(),
		rpc:    chaintest.New(),
		svc:    svc,
		ledger: ledger.New(srv.URL),
	}
}

func (h *harness) open(t *testing.T, pass string) *Session {
	t.Helper()
	s, err := New(context.Background(), h.cfg, h.options(pass))
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func (h *harness) options(pass string) Options {
	return Options{
		Passphrase: []byte(pass),
		RPC:        h.rpc,
		Ledger:     h.ledger,
		DB:         h.db,
		Encryption: &wallet.EncryptionParams{Memory: 64, Iterations: 1, Parallelism: 1},
	}
}

func TestNew_RequiresPassphrase(t *testing.T) {
	h := newHarness(t)
	_, err := New(context.Background(), h.cfg, h.options(""))
	assert.ErrorIs(t, err, ErrNoPassphrase)

	h.cfg.Vault.Kind = config.VaultNone
	s := h.open(t, "")
	assert.NotNil(t, s.Keys())
}

func TestSession_StartPollsAndStops(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "pw")
	ctx := context.Background()

	w, err := s.Registry().CreateWallet(ctx, "u1", "", "")
	require.NoError(t, err)
	h.rpc.SetBalance(w.Address, big.NewInt(2_000_000_000_000_000_000))

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start")

	require.Eventually(t, func() bool {
		b, ok := s.Oracle().Cached(w.Address)
		return ok && b.Amount.Equal(decimal.NewFromInt(2))
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	calls := h.rpc.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, h.rpc.Calls(), "no polling after Stop")
}

func TestSession_ReconcilesOnStart(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "pw")
	ctx := context.Background()

	w, err := s.Registry().CreateWallet(ctx, "u1", "", "")
	require.NoError(t, err)
	require.NoError(t, s.Journal().Record(reconcile.Entry{
		Kind:        reconcile.KindLedgerWrite,
		WalletID:    w.ID,
		TxHash:      common.Hash{9},
		Type:        ledger.TxSend,
		Amount:      decimal.RequireFromString("0.1"),
		FromAddress: w.Address.Hex(),
		ToAddress:   "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	}))

	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool {
		entries, err := s.Journal().List()
		return err == nil && len(entries) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.svc.Transactions(w.ID), 1)
}

func TestSession_KeysSurviveRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := New(ctx, h.cfg, h.options("pw"))
	require.NoError(t, err)
	w, err := first.Registry().CreateWallet(ctx, "u1", "", "")
	require.NoError(t, err)
	first.Stop()

	wrong, err := New(ctx, h.cfg, h.options("not-pw"))
	require.NoError(t, err)
	_, err = wrong.Registry().ListWallets(ctx, "u1")
	require.NoError(t, err)
	_, err = wrong.Registry().Activate(ctx, w.ID)
	assert.ErrorIs(t, err, wallet.ErrWrongPassphrase)
	wrong.Stop()

	second := h.open(t, "pw")
	require.NoError(t, second.Start(ctx))
	got, err := second.Registry().Activate(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.IsConnected)
	assert.Equal(t, w.Address, got.Address)
}

func TestSession_TransferEndToEnd(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "pw")
	ctx := context.Background()

	w, err := s.Registry().ImportWallet(ctx, "u1", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", "dev")
	require.NoError(t, err)
	h.rpc.SetBalance(w.Address, big.NewInt(1_000_000_000_000_000_000))

	tx, err := s.Coordinator().CreateTransfer(ctx, w.ID, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", "0.5")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, tx.Status)

	bal, ok := s.Oracle().Cached(w.Address)
	require.True(t, ok)
	assert.Equal(t, "0.5", bal.Amount.String())
}

func TestSession_FileVaultAndMetrics(t *testing.T) {
	h := newHarness(t)
	h.cfg.Vault.Kind = config.VaultFile
	opts := h.options("pw")
	reg := prometheus.NewRegistry()
	opts.Registerer = reg

	s, err := New(context.Background(), h.cfg, opts)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	require.NotNil(t, s.Metrics())

	w, err := s.Registry().CreateWallet(context.Background(), "u1", "", "")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(h.cfg.KeysDir(), string(w.ID)+".key"))
	assert.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestReadPassphraseFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "pass")
	require.NoError(t, os.WriteFile(good, []byte("s3cret\n"), 0600))
	pass, err := ReadPassphraseFile(good)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(pass))

	open := filepath.Join(dir, "open")
	require.NoError(t, os.WriteFile(open, []byte("s3cret"), 0644))
	require.NoError(t, os.Chmod(open, 0644))
	_, err = ReadPassphraseFile(open)
	assert.ErrorContains(t, err, "accessible by other users")

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0600))
	_, err = ReadPassphraseFile(empty)
	assert.Error(t, err)

	_, err = ReadPassphraseFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSession_OrphanKeys(t *testing.T) {
	for _, kind := range []config.VaultKind{config.VaultDB, config.VaultFile} {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t)
			h.cfg.Vault.Kind = kind
			s := h.open(t, "pw")
			ctx := context.Background()

			w, err := s.Registry().CreateWallet(ctx, "u1", "", "")
			require.NoError(t, err)
			require.NoError(t, s.vault.Store("stale-wallet", []byte{1, 2, 3}))

			ws, err := s.Registry().ListWallets(ctx, "u1")
			require.NoError(t, err)
			orphans, err := s.orphanKeys(ws)
			require.NoError(t, err)
			assert.Equal(t, []string{"stale-wallet"}, orphans)

			require.NoError(t, s.Registry().RemoveWallet(ctx, w.ID))
			ws, err = s.Registry().ListWallets(ctx, "u1")
			require.NoError(t, err)
			orphans, err = s.orphanKeys(ws)
			require.NoError(t, err)
			assert.Equal(t, []string{"stale-wallet"}, orphans, "removing a wallet deletes its key")
		})
	}
}

func TestSession_OrphanKeysWithoutVault(t *testing.T) {
	h := newHarness(t)
	h.cfg.Vault.Kind = config.VaultNone
	s := h.open(t, "")
	orphans, err := s.orphanKeys(nil)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}
