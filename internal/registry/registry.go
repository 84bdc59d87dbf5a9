// Package registry manages the wallet lifecycle on top of the key store,
// the ledger and the balance oracle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/oracle"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrRegistrationFailure = errors.New("wallet registration failed")
	ErrDuplicateAddress    = errors.New("wallet address already registered")
	ErrWalletNotFound      = errors.New("wallet not found")
)

// Keys is the part of the key store the registry uses.
type Keys interface {
	CreateKeypair() (common.Address, wallet.KeyHandle, error)
	ImportKeypair(secret string) (common.Address, wallet.KeyHandle, error)
	Bind(h wallet.KeyHandle, walletID string) error
	Discard(h wallet.KeyHandle)
	Restore(walletID string, expected common.Address) error
	Has(walletID string) bool
	Forget(walletID string) error
}

// Balances is the part of the oracle the registry uses.
type Balances interface {
	Track(addr common.Address)
	Untrack(addr common.Address)
	Cached(addr common.Address) (oracle.Balance, bool)
}

// Wallet is the registry's view of a wallet: the ledger record plus session
// state.
type Wallet struct {
	ID        ledger.ID
	OwnerID   string
	Currency  string
	Name      string
	Address   common.Address
	CreatedAt time.Time

	// Balance is nil until the oracle has fetched it.
	Balance *decimal.Decimal
	// IsConnected is true only when the session holds the wallet's key.
	IsConnected bool
}

// Registry creates, lists, activates and removes wallets. It keeps an
// index of the wallets it has seen so the coordinator can resolve
// recipients and connection state without a ledger round trip.
type Registry struct {
	ledger   ledger.Ledger
	keys     Keys
	balances Balances
	currency string

	mu           sync.RWMutex
	index        map[ledger.ID]ledger.Wallet
	disconnected map[ledger.ID]bool
	active       ledger.ID
}

// New creates a registry for wallets of the given chain currency.
func New(l ledger.Ledger, keys Keys, balances Balances, currency string) *Registry {
	return &Registry{
		ledger:       l,
		keys:         keys,
		balances:     balances,
		currency:     strings.ToUpper(currency),
		index:        make(map[ledger.ID]ledger.Wallet),
		disconnected: make(map[ledger.ID]bool),
	}
}

// Currency returns the currency code new wallets are created with.
func (r *Registry) Currency() string { return r.currency }

// CreateWallet generates a key and registers a new wallet. An empty name
// defaults to "<CUR> Wallet".
func (r *Registry) CreateWallet(ctx context.Context, ownerID, currency, name string) (*Wallet, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = r.currency
	}
	if currency != r.currency {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}

	addr, h, err := r.keys.CreateKeypair()
	if err != nil {
		return nil, err
	}
	return r.register(ctx, ownerID, currency, name, addr, h)
}

// ImportWallet registers a wallet for an existing key (hex or mnemonic).
func (r *Registry) ImportWallet(ctx context.Context, ownerID, secret, name string) (*Wallet, error) {
	addr, h, err := r.keys.ImportKeypair(secret)
	if err != nil {
		return nil, err
	}
	return r.register(ctx, ownerID, r.currency, name, addr, h)
}

// register persists a wallet for a pending key. Every failure path discards
// the pending key so nothing references it afterwards.
func (r *Registry) register(ctx context.Context, ownerID, currency, name string, addr common.Address, h wallet.KeyHandle) (*Wallet, error) {
	if strings.TrimSpace(name) == "" {
		name = currency + " Wallet"
	}
	l := log.Registry.With().Str("owner", ownerID).Str("address", addr.Hex()).Logger()

	if err := r.checkDuplicate(ctx, ownerID, currency, addr); err != nil {
		r.keys.Discard(h)
		return nil, err
	}

	rec, err := r.ledger.CreateWallet(ctx, ledger.NewWallet{
		OwnerID:  ownerID,
		Currency: currency,
		Address:  addr.Hex(),
		Name:     name,
	})
	if errors.Is(err, ledger.ErrConflict) {
		r.keys.Discard(h)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, addr.Hex())
	}
	if err != nil {
		r.keys.Discard(h)
		l.Warn().Err(err).Msg("Wallet registration failed, key discarded")
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailure, err)
	}

	if err := r.keys.Bind(h, string(rec.ID)); err != nil {
		r.keys.Discard(h)
		if derr := r.ledger.DeleteWallet(ctx, rec.ID); derr != nil {
			l.Error().Err(derr).Str("wallet", string(rec.ID)).Msg("Rollback of ledger wallet failed")
		}
		l.Warn().Err(err).Msg("Key persistence failed, wallet rolled back")
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailure, err)
	}

	r.mu.Lock()
	r.index[rec.ID] = *rec
	delete(r.disconnected, rec.ID)
	r.mu.Unlock()
	r.balances.Track(addr)

	l.Info().Str("wallet", string(rec.ID)).Str("currency", currency).Msg("Wallet registered")
	return r.view(*rec), nil
}

// checkDuplicate rejects an address already registered for the owner and
// currency, consulting both the local index and the ledger.
func (r *Registry) checkDuplicate(ctx context.Context, ownerID, currency string, addr common.Address) error {
	if w, ok := r.findLocal(currency, addr); ok {
		return fmt.Errorf("%w: %s (wallet %s)", ErrDuplicateAddress, addr.Hex(), w.ID)
	}
	existing, err := r.ledger.ListWallets(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistrationFailure, err)
	}
	for _, w := range existing {
		if w.Currency == currency && sameAddress(w.Address, addr) {
			return fmt.Errorf("%w: %s (wallet %s)", ErrDuplicateAddress, addr.Hex(), w.ID)
		}
	}
	return nil
}

func (r *Registry) findLocal(currency string, addr common.Address) (ledger.Wallet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.index {
		if w.Currency == currency && sameAddress(w.Address, addr) {
			return w, true
		}
	}
	return ledger.Wallet{}, false
}

// RemoveWallet deletes the wallet and its transactions from the ledger,
// forgets its key and stops tracking its address.
func (r *Registry) RemoveWallet(ctx context.Context, id ledger.ID) error {
	if err := r.ledger.DeleteWallet(ctx, id); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, id)
		}
		return err
	}

	r.mu.Lock()
	rec, known := r.index[id]
	delete(r.index, id)
	delete(r.disconnected, id)
	if r.active == id {
		r.active = ""
	}
	r.mu.Unlock()

	if known {
		r.balances.Untrack(common.HexToAddress(rec.Address))
	}
	if err := r.keys.Forget(string(id)); err != nil {
		log.Registry.Warn().Err(err).Str("wallet", string(id)).Msg("Wallet removed but stored key could not be deleted")
	}
	log.Registry.Info().Str("wallet", string(id)).Msg("Wallet removed")
	return nil
}

// ListWallets returns the owner's wallets with cached balances. It does not
// refresh balances; the addresses are tracked so polling picks them up.
func (r *Registry) ListWallets(ctx context.Context, ownerID string) ([]*Wallet, error) {
	recs, err := r.ledger.ListWallets(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for id, w := range r.index {
		if w.OwnerID == ownerID {
			delete(r.index, id)
		}
	}
	for _, w := range recs {
		r.index[w.ID] = w
	}
	r.mu.Unlock()

	out := make([]*Wallet, 0, len(recs))
	for _, w := range recs {
		r.balances.Track(common.HexToAddress(w.Address))
		out = append(out, r.view(w))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Get returns a wallet from the index.
func (r *Registry) Get(id ledger.ID) (*Wallet, error) {
	r.mu.RLock()
	rec, ok := r.index[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	return r.view(rec), nil
}

// FindByAddress returns the indexed wallet with the given address in the
// registry's currency.
func (r *Registry) FindByAddress(addr common.Address) (*Wallet, bool) {
	rec, ok := r.findLocal(r.currency, addr)
	if !ok {
		return nil, false
	}
	return r.view(rec), true
}

// Activate selects the active wallet, restoring its key from the vault when
// the session does not hold it. A wallet without a stored key is activated
// disconnected; any other restore failure leaves the selection unchanged.
func (r *Registry) Activate(ctx context.Context, id ledger.ID) (*Wallet, error) {
	r.mu.RLock()
	rec, ok := r.index[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}

	if !r.keys.Has(string(id)) {
		err := r.keys.Restore(string(id), common.HexToAddress(rec.Address))
		switch {
		case err == nil:
			r.SetConnected(id, true)
		case errors.Is(err, wallet.ErrKeyNotFound):
			log.Registry.Warn().Str("wallet", string(id)).Msg("No stored key, wallet activated disconnected")
		default:
			return nil, fmt.Errorf("restore key for wallet %s: %w", id, err)
		}
	}

	r.mu.Lock()
	r.active = id
	r.mu.Unlock()
	log.Registry.Info().Str("wallet", string(id)).Msg("Wallet activated")
	return r.view(rec), nil
}

// Active returns the active wallet, if any.
func (r *Registry) Active() (*Wallet, bool) {
	r.mu.RLock()
	id := r.active
	rec, ok := r.index[id]
	r.mu.RUnlock()
	if id == "" || !ok {
		return nil, false
	}
	return r.view(rec), true
}

// SetConnected records the connection state of a wallet. A wallet can
// only read as connected while the session also holds its key.
func (r *Registry) SetConnected(id ledger.ID, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if connected {
		delete(r.disconnected, id)
	} else {
		r.disconnected[id] = true
	}
}

func (r *Registry) view(rec ledger.Wallet) *Wallet {
	addr := common.HexToAddress(rec.Address)
	w := &Wallet{
		ID:        rec.ID,
		OwnerID:   rec.OwnerID,
		Currency:  rec.Currency,
		Name:      rec.Name,
		Address:   addr,
		CreatedAt: rec.CreatedAt,
	}
	if b, ok := r.balances.Cached(addr); ok && b.Known() {
		amt := b.Amount
		w.Balance = &amt
	}
	r.mu.RLock()
	down := r.disconnected[rec.ID]
	r.mu.RUnlock()
	w.IsConnected = !down && r.keys.Has(string(rec.ID))
	return w
}

func sameAddress(s string, addr common.Address) bool {
	return types.SameAddress(s, addr.Hex())
}
