package coordinator

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidTransferParams is returned for a malformed recipient or a
	// non-positive amount. No network call has been made.
	ErrInvalidTransferParams = errors.New("invalid transfer parameters")
	// ErrTransferInProgress is returned when the wallet already has a
	// transfer in flight.
	ErrTransferInProgress = errors.New("transfer already in progress for wallet")
	// ErrLedgerWrite means funds moved on chain but the ledger row could
	// not be stored. See LedgerWriteError.
	ErrLedgerWrite = errors.New("transfer confirmed but ledger write failed")
	// ErrConfirmationUnknown means the transaction may be on chain but its
	// outcome is not known yet. See PendingError.
	ErrConfirmationUnknown = errors.New("transfer outcome not yet known")
)

// LedgerWriteError carries the hash of a confirmed transfer whose ledger
// row is pending reconciliation. The transfer itself succeeded.
type LedgerWriteError struct {
	WalletID ledger.ID
	TxHash   common.Hash
	Err      error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("%v: wallet %s tx %s: %v", ErrLedgerWrite, e.WalletID, e.TxHash.Hex(), e.Err)
}

func (e *LedgerWriteError) Unwrap() []error { return []error{ErrLedgerWrite, e.Err} }

// PendingError carries the hash of a broadcast transfer whose confirmation
// could not be observed. Do not resend; the reconciler settles it.
type PendingError struct {
	WalletID ledger.ID
	TxHash   common.Hash
	Err      error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%v: wallet %s tx %s: %v", ErrConfirmationUnknown, e.WalletID, e.TxHash.Hex(), e.Err)
}

func (e *PendingError) Unwrap() []error { return []error{ErrConfirmationUnknown, e.Err} }
