// Package ledger is the client side of the off-chain wallet/transaction
// ledger service.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ID is a ledger row id. The service returns UUID strings for wallets and
// integer keys for transactions; both decode into ID.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("ledger id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// TxType is the direction of a transaction relative to its wallet.
type TxType uint8

const (
	TxSend TxType = iota + 1
	TxReceive
)

func (t TxType) String() string {
	switch t {
	case TxSend:
		return "SEND"
	case TxReceive:
		return "RECEIVE"
	}
	return fmt.Sprintf("TxType(%d)", uint8(t))
}

func (t TxType) MarshalText() ([]byte, error) {
	switch t {
	case TxSend, TxReceive:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("invalid transaction type %d", uint8(t))
}

func (t *TxType) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "SEND":
		*t = TxSend
	case "RECEIVE":
		*t = TxReceive
	default:
		return fmt.Errorf("unknown transaction type %q", b)
	}
	return nil
}

// TxStatus is the lifecycle state of a ledger transaction. PENDING may move
// to COMPLETED or FAILED; both are terminal.
type TxStatus uint8

const (
	StatusPending TxStatus = iota + 1
	StatusCompleted
	StatusFailed
)

func (s TxStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	}
	return fmt.Sprintf("TxStatus(%d)", uint8(s))
}

// Terminal reports whether no further transition is allowed.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusPending:
		return false
	}
	return false
}

// CanTransition reports whether s may move to next.
func (s TxStatus) CanTransition(next TxStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	}
	return false
}

func (s TxStatus) MarshalText() ([]byte, error) {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("invalid transaction status %d", uint8(s))
}

func (s *TxStatus) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "PENDING":
		*s = StatusPending
	case "COMPLETED":
		*s = StatusCompleted
	case "FAILED":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown transaction status %q", b)
	}
	return nil
}

// Wallet is a wallet row as stored by the ledger.
type Wallet struct {
	ID        ID               `json:"id"`
	OwnerID   string           `json:"user_id"`
	Currency  string           `json:"currency"`
	Name      string           `json:"name"`
	Address   string           `json:"address"`
	Balance   *decimal.Decimal `json:"balance,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewWallet is the body of a wallet insert. Key material is never sent.
type NewWallet struct {
	OwnerID  string `json:"user_id"`
	Currency string `json:"currency"`
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
}

// Transaction is a transaction row as stored by the ledger.
type Transaction struct {
	ID          ID              `json:"id"`
	WalletID    ID              `json:"wallet_id"`
	Type        TxType          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Status      TxStatus        `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewTransaction is the body of a transaction insert.
type NewTransaction struct {
	WalletID    ID              `json:"wallet_id"`
	Type        TxType          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Status      TxStatus        `json:"status"`
}

// Validate checks the invariants every stored row must hold.
func (n *NewTransaction) Validate() error {
	if n.WalletID == "" {
		return fmt.Errorf("missing wallet id")
	}
	if !n.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", n.Amount)
	}
	if n.Status == StatusCompleted && n.TxHash == "" {
		return fmt.Errorf("completed transaction without tx hash")
	}
	if _, err := n.Type.MarshalText(); err != nil {
		return err
	}
	if _, err := n.Status.MarshalText(); err != nil {
		return err
	}
	return nil
}
