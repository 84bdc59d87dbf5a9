// Package reconcile records transfers whose on-chain and ledger state may
// have diverged, and repairs the ledger once the chain outcome is known.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/metrics"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Kind is what an entry is waiting for.
type Kind string

const (
	// KindConfirmation waits for the chain to report a receipt.
	KindConfirmation Kind = "confirmation"
	// KindLedgerWrite waits for a COMPLETED row to be stored.
	KindLedgerWrite Kind = "ledger-write"
)

// Entry is one transfer awaiting reconciliation.
type Entry struct {
	Kind        Kind            `json:"kind"`
	WalletID    ledger.ID       `json:"wallet_id"`
	TxHash      common.Hash     `json:"tx_hash"`
	Type        ledger.TxType   `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// key identifies the row the entry is about. It does not include the kind,
// so promoting a confirmation entry to a ledger write replaces it.
func (e *Entry) key() []byte {
	return []byte(fmt.Sprintf("%s/%s/%s", e.WalletID, e.TxHash.Hex(), e.Type))
}

// Transaction returns the ledger insert this entry stands for.
func (e *Entry) Transaction() ledger.NewTransaction {
	return ledger.NewTransaction{
		WalletID:    e.WalletID,
		Type:        e.Type,
		Amount:      e.Amount,
		FromAddress: e.FromAddress,
		ToAddress:   e.ToAddress,
		TxHash:      e.TxHash.Hex(),
		Status:      ledger.StatusCompleted,
	}
}

// Journal persists entries in a storage.DB under storage.JournalSpace.
type Journal struct {
	mu      sync.Mutex
	db      *storage.Namespace
	metrics *metrics.Metrics
}

// NewJournal opens the journal stored in db. m may be nil.
func NewJournal(db storage.DB, m *metrics.Metrics) *Journal {
	j := &Journal{db: storage.Namespaced(db, storage.JournalSpace), metrics: m}
	if entries, err := j.List(); err == nil {
		m.SetPending(len(entries))
	}
	return j
}

// Record inserts or replaces an entry, keeping the original CreatedAt.
func (j *Journal) Record(e Entry) error {
	if e.TxHash == (common.Hash{}) || e.WalletID == "" {
		return errors.New("journal entry needs a wallet id and tx hash")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().UTC()
	if prev, err := j.get(e.key()); err == nil {
		e.CreatedAt = prev.CreatedAt
	} else if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	data, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if err := j.db.Put(e.key(), data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	j.updateGauge()
	return nil
}

// Remove deletes an entry. Removing a missing entry is not an error.
func (j *Journal) Remove(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.db.Delete(e.key()); err != nil {
		return fmt.Errorf("delete journal entry: %w", err)
	}
	j.updateGauge()
	return nil
}

// RemoveWallet deletes every entry for walletID in one batch.
func (j *Journal) RemoveWallet(walletID ledger.ID) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var keys [][]byte
	err := j.db.ForEach([]byte(string(walletID)+"/"), func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}

	b := j.db.NewBatch()
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(); err != nil {
		return 0, fmt.Errorf("commit journal batch: %w", err)
	}
	j.updateGauge()
	return len(keys), nil
}

// List returns all entries, oldest first.
func (j *Journal) List() ([]Entry, error) {
	var out []Entry
	err := j.db.ForEach(nil, func(_, v []byte) error {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return strings.Compare(string(out[a].key()), string(out[b].key())) < 0
	})
	return out, nil
}

func (j *Journal) get(key []byte) (Entry, error) {
	var e Entry
	data, err := j.db.Get(key)
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(data, &e)
	return e, err
}

// updateGauge must be called with mu held.
func (j *Journal) updateGauge() {
	if j.metrics == nil {
		return
	}
	n := 0
	j.db.ForEach(nil, func(_, _ []byte) error {
		n++
		return nil
	})
	j.metrics.SetPending(n)
}
