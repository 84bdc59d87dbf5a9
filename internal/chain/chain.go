// Package chain is the wallet's view of the blockchain node: balance reads,
// transaction parameters, broadcast and confirmation.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrNodeUnavailable is a transient failure reaching or reading from the
	// node. Callers may retry after backoff.
	ErrNodeUnavailable = errors.New("chain node unavailable")
	// ErrBroadcastRejected means the node refused the transaction, or it was
	// mined and reverted. Retrying the same bytes will not help.
	ErrBroadcastRejected = errors.New("broadcast rejected")
	// ErrReceiptNotFound means the transaction is not (yet) mined.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrNotConfirmed means the confirmation wait ended without a receipt.
	ErrNotConfirmed = errors.New("transaction not confirmed in time")
)

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Success     bool
}

// RPC is the set of node calls the wallet depends on.
type RPC interface {
	// Balance returns the latest balance of addr in wei.
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	// Nonce returns the next nonce for addr, including pending transactions.
	Nonce(ctx context.Context, addr common.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	// Broadcast submits a signed transaction. Submitting bytes the node has
	// already seen is a success.
	Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	// Receipt returns ErrReceiptNotFound while the transaction is unmined.
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	// WaitForConfirmation blocks until a receipt exists, returning
	// ErrNotConfirmed when the wait is exhausted.
	WaitForConfirmation(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// TransferGas is the gas limit of a plain value transfer.
const TransferGas = 21000

// NewTransfer builds an unsigned legacy value transfer.
func NewTransfer(nonce uint64, to common.Address, value, gasPrice *big.Int) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      TransferGas,
		To:       &to,
		Value:    value,
	})
}
