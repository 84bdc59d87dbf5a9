// Package session wires the wallet components for one operator session and
// runs their background loops.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/config"
	"github.com/Klingon-tech/klingnet-wallet/internal/chain"
	"github.com/Klingon-tech/klingnet-wallet/internal/coordinator"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/metrics"
	"github.com/Klingon-tech/klingnet-wallet/internal/oracle"
	"github.com/Klingon-tech/klingnet-wallet/internal/reconcile"
	"github.com/Klingon-tech/klingnet-wallet/internal/registry"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ErrNoPassphrase is returned when a vault is configured but no passphrase
// was supplied.
var ErrNoPassphrase = errors.New("vault passphrase required")

// Options override the session's external dependencies. Zero values mean
// "build from config".
type Options struct {
	// Passphrase unlocks the vault. Required unless the vault kind is none.
	Passphrase []byte
	// RPC replaces the go-ethereum client.
	RPC chain.RPC
	// Ledger replaces the HTTP ledger client.
	Ledger ledger.Ledger
	// DB replaces the badger database.
	DB storage.DB
	// Registerer receives the prometheus collectors. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
	// Encryption overrides the Argon2id parameters used for new keys.
	Encryption *wallet.EncryptionParams
}

// closer is implemented by the vaults and the go-ethereum client.
type closer interface{ Close() }

// Session owns every component of one wallet session.
type Session struct {
	cfg    *config.Config
	logger zerolog.Logger

	db          storage.DB
	vault       wallet.SecretStore
	keys        *wallet.KeyStore
	rpc         chain.RPC
	ledger      ledger.Ledger
	metrics     *metrics.Metrics
	oracle      *oracle.Oracle
	registry    *registry.Registry
	journal     *reconcile.Journal
	reconciler  *reconcile.Reconciler
	coordinator *coordinator.Coordinator

	// Lifecycle
	mu      sync.Mutex
	started bool
	poller  *oracle.Poller
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []closer
}

// New opens storage, unlocks the vault, dials the node and builds the
// components. It starts no background work; call Start for that.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	s := &Session{
		cfg:    cfg,
		logger: klog.WithComponent("session"),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.init(ctx, opts); err != nil {
		s.close()
		return nil, err
	}

	s.logger.Info().
		Str("network", string(cfg.Network)).
		Str("currency", cfg.Chain.Currency).
		Str("vault", string(cfg.Vault.Kind)).
		Msg("Session ready")
	return s, nil
}

func (s *Session) init(ctx context.Context, opts Options) error {
	cfg := s.cfg

	// ── 1. Storage ──────────────────────────────────────────────────
	s.db = opts.DB
	if s.db == nil {
		dir := expandHome(cfg.DBDir())
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
		db, err := storage.NewBadger(dir)
		if err != nil {
			return fmt.Errorf("open database at %s: %w", dir, err)
		}
		s.db = db
		s.logger.Info().Str("path", dir).Msg("Database opened")
	}

	// ── 2. Key vault ────────────────────────────────────────────────
	if cfg.Vault.Kind != config.VaultNone {
		if len(opts.Passphrase) == 0 {
			return ErrNoPassphrase
		}
		params := wallet.DefaultParams()
		if opts.Encryption != nil {
			params = *opts.Encryption
		}
		sealer := wallet.NewSealer(opts.Passphrase, params)

		switch cfg.Vault.Kind {
		case config.VaultFile:
			fv, err := wallet.NewFileVault(expandHome(cfg.KeysDir()), sealer)
			if err != nil {
				sealer.Zero()
				return fmt.Errorf("open key directory: %w", err)
			}
			s.vault = fv
			s.closers = append(s.closers, fv)
		default:
			dv := wallet.NewDBVault(s.db, sealer)
			s.vault = dv
			s.closers = append(s.closers, dv)
		}
	}
	s.keys = wallet.NewKeyStore(s.vault)

	// ── 3. Chain node ───────────────────────────────────────────────
	s.rpc = opts.RPC
	if s.rpc == nil {
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		eth, err := chain.Dial(dialCtx, cfg.Chain.RPCURL, cfg.Chain.ConfirmPoll, cfg.Chain.ConfirmTimeout)
		cancel()
		if err != nil {
			return fmt.Errorf("dial chain node: %w", err)
		}
		s.rpc = eth
		s.closers = append(s.closers, eth)
	}

	// ── 4. Ledger ───────────────────────────────────────────────────
	s.ledger = opts.Ledger
	if s.ledger == nil {
		c := ledger.NewWithTimeout(cfg.Ledger.URL, cfg.Ledger.Timeout)
		if cfg.Ledger.Token != "" {
			c.SetToken(cfg.Ledger.Token)
		}
		s.ledger = c
	}

	// ── 5. Components ───────────────────────────────────────────────
	if opts.Registerer != nil {
		s.metrics = metrics.New(opts.Registerer)
	}
	s.oracle = oracle.New(s.rpc, s.metrics)
	s.registry = registry.New(s.ledger, s.keys, s.oracle, cfg.Chain.Currency)
	s.journal = reconcile.NewJournal(s.db, s.metrics)
	s.reconciler = reconcile.NewReconciler(s.journal, s.rpc, s.ledger)
	s.coordinator = coordinator.New(s.rpc, s.ledger, s.keys, s.registry, s.oracle, s.journal, s.metrics, coordinator.Config{
		ParamRetries:     cfg.Transfer.ParamRetries,
		BroadcastRetries: cfg.Transfer.BroadcastRetries,
		LedgerRetries:    cfg.Transfer.LedgerRetries,
		RetryInitial:     cfg.Transfer.RetryInitial,
		RetryMax:         cfg.Transfer.RetryMax,
		RecordReceive:    cfg.Transfer.RecordReceive,
	})
	return nil
}

// Start loads the owner's wallets, then polls their balances and runs the
// reconciler periodically until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("session already started")
	}

	if s.cfg.Owner != "" {
		ws, err := s.registry.ListWallets(ctx, s.cfg.Owner)
		if err != nil {
			return fmt.Errorf("load wallets: %w", err)
		}
		s.logger.Info().Str("owner", s.cfg.Owner).Int("wallets", len(ws)).Msg("Wallets loaded")

		orphans, err := s.orphanKeys(ws)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Could not list stored keys")
		} else if len(orphans) > 0 {
			s.logger.Warn().Strs("wallets", orphans).Msg("Stored keys with no ledger wallet for this owner")
		}
	}

	p, err := s.oracle.StartPolling(s.ctx, nil, s.cfg.Poll.Interval)
	if err != nil {
		return err
	}
	s.poller = p

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runReconcileLoop(s.cfg.Reconcile.Interval)
	}()

	s.started = true
	s.logger.Info().
		Dur("poll", s.cfg.Poll.Interval).
		Dur("reconcile", s.cfg.Reconcile.Interval).
		Msg("Session started")
	return nil
}

// orphanKeys returns the vault's wallet ids that are not among ws. Vaults
// that cannot enumerate their records report none.
func (s *Session) orphanKeys(ws []*registry.Wallet) ([]string, error) {
	l, ok := s.vault.(wallet.Lister)
	if !ok {
		return nil, nil
	}
	ids, err := l.List()
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		known[string(w.ID)] = struct{}{}
	}
	var out []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// runReconcileLoop runs one pass immediately and then one per tick.
func (s *Session) runReconcileLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.reconciler.Run(s.ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Reconcile pass incomplete")
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends background work, zeroes keys and closes storage.
func (s *Session) Stop() {
	s.close()
	s.logger.Info().Msg("Session stopped")
}

func (s *Session) close() {
	s.cancel()
	s.mu.Lock()
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	s.mu.Unlock()
	s.wg.Wait()

	if s.keys != nil {
		s.keys.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
	s.closers = nil
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Close database")
		}
		s.db = nil
	}
}

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Keys returns the key store.
func (s *Session) Keys() *wallet.KeyStore { return s.keys }

// Oracle returns the balance oracle.
func (s *Session) Oracle() *oracle.Oracle { return s.oracle }

// Registry returns the wallet registry.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Coordinator returns the transfer coordinator.
func (s *Session) Coordinator() *coordinator.Coordinator { return s.coordinator }

// Journal returns the pending-write journal.
func (s *Session) Journal() *reconcile.Journal { return s.journal }

// Reconciler returns the reconciler.
func (s *Session) Reconciler() *reconcile.Reconciler { return s.reconciler }

// Metrics returns the session's collectors, nil when unregistered.
func (s *Session) Metrics() *metrics.Metrics { return s.metrics }
