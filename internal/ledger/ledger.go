package ledger

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when the ledger has no such row.
	ErrNotFound = errors.New("ledger: not found")
	// ErrConflict is returned when an insert collides with an existing row.
	ErrConflict = errors.New("ledger: conflict")
	// ErrUnavailable is returned when the ledger cannot be reached.
	ErrUnavailable = errors.New("ledger: unavailable")
)

// Ledger is the off-chain record of wallets and transactions. Calls are not
// idempotent; the server does no deduplication.
type Ledger interface {
	ListWallets(ctx context.Context, ownerID string) ([]Wallet, error)
	CreateWallet(ctx context.Context, w NewWallet) (*Wallet, error)
	// DeleteWallet removes a wallet and its transactions.
	DeleteWallet(ctx context.Context, id ID) error
	// ListTransactions returns a wallet's transactions, newest first.
	ListTransactions(ctx context.Context, walletID ID) ([]Transaction, error)
	CreateTransaction(ctx context.Context, tx NewTransaction) (*Transaction, error)
}

// FindByHash returns the wallet's transaction with the given chain hash and
// type, or ErrNotFound.
func FindByHash(ctx context.Context, l Ledger, walletID ID, hash string, typ TxType) (*Transaction, error) {
	txs, err := l.ListTransactions(ctx, walletID)
	if err != nil {
		return nil, err
	}
	for i := range txs {
		if txs[i].Type == typ && strings.EqualFold(txs[i].TxHash, hash) {
			return &txs[i], nil
		}
	}
	return nil, ErrNotFound
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return false
}
