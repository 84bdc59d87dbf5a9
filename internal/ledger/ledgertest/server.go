// Package ledgertest runs an in-memory ledger REST service. It backs tests
// and the CLI's dev mode.
package ledgertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Fault describes an injected failure for one route.
type Fault struct {
	// Status is the HTTP status returned.
	Status int
	// AfterCommit applies the write before failing, as a server that times
	// out after committing would.
	AfterCommit bool
}

// Route names accepted by Fail.
const (
	RouteListWallets       = "list-wallets"
	RouteCreateWallet      = "create-wallet"
	RouteDeleteWallet      = "delete-wallet"
	RouteListTransactions  = "list-transactions"
	RouteCreateTransaction = "create-transaction"
)

// Service is the in-memory ledger. Its zero value is not usable; use New.
type Service struct {
	mu      sync.Mutex
	wallets map[ledger.ID]ledger.Wallet
	txs     map[ledger.ID][]ledger.Transaction
	nextTx  int
	faults  map[string][]Fault
	calls   map[string]int
	token   string
	reqIDs  []string
	router  chi.Router
}

// New creates an empty service. A non-empty token is required as a bearer
// token on every request.
func New(token string) *Service {
	s := &Service{
		wallets: make(map[ledger.ID]ledger.Wallet),
		txs:     make(map[ledger.ID][]ledger.Transaction),
		faults:  make(map[string][]Fault),
		calls:   make(map[string]int),
		token:   token,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.auth)
	r.Get("/wallets/{id}", s.route(RouteListWallets, s.listWallets))
	r.Post("/wallets", s.route(RouteCreateWallet, s.createWallet))
	r.Delete("/wallets/{id}", s.route(RouteDeleteWallet, s.deleteWallet))
	r.Get("/transactions/wallet/{id}", s.route(RouteListTransactions, s.listTransactions))
	r.Post("/transactions", s.route(RouteCreateTransaction, s.createTransaction))
	s.router = r
	return s
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler { return s.router }

// Start serves the ledger on a local test server. Close it when done.
func (s *Service) Start() *httptest.Server {
	return httptest.NewServer(s.router)
}

// Fail queues faults for route; each request consumes one.
func (s *Service) Fail(route string, faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = append(s.faults[route], faults...)
}

// Calls returns how many requests route has received.
func (s *Service) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// RequestIDs returns the X-Request-ID values seen so far.
func (s *Service) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reqIDs...)
}

// Transactions returns a snapshot of walletID's rows in insert order.
func (s *Service) Transactions(walletID ledger.ID) []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Transaction(nil), s.txs[walletID]...)
}

// Wallet returns the stored wallet row.
func (s *Service) Wallet(id ledger.ID) (ledger.Wallet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	return w, ok
}

func (s *Service) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.reqIDs = append(s.reqIDs, r.Header.Get(ledger.RequestIDHeader))
		s.mu.Unlock()
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handler returns the status and JSON body for a request.
type handler func(r *http.Request) (status int, body any)

func (s *Service) route(name string, h handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[name]++
		var fault *Fault
		if q := s.faults[name]; len(q) > 0 {
			fault = &q[0]
			s.faults[name] = q[1:]
		}
		s.mu.Unlock()

		if fault != nil && !fault.AfterCommit {
			writeError(w, fault.Status, "injected failure")
			return
		}
		status, body := h(r)
		if fault != nil {
			writeError(w, fault.Status, "injected failure after commit")
			return
		}
		writeJSON(w, status, body)
	}
}

func (s *Service) listWallets(r *http.Request) (int, any) {
	owner := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.Wallet{}
	for _, w := range s.wallets {
		if w.OwnerID == owner {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return http.StatusOK, out
}

func (s *Service) createWallet(r *http.Request) (int, any) {
	var req ledger.NewWallet
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return http.StatusBadRequest, errorBody(err.Error())
	}
	if req.OwnerID == "" || req.Currency == "" || req.Address == "" {
		return http.StatusBadRequest, errorBody("user_id, currency and address are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.Currency == req.Currency && strings.EqualFold(w.Address, req.Address) {
			return http.StatusConflict, errorBody("Wallet address already exists")
		}
	}
	name := req.Name
	if name == "" {
		name = req.Currency + " Wallet"
	}
	w := ledger.Wallet{
		ID:        ledger.ID(uuid.NewString()),
		OwnerID:   req.OwnerID,
		Currency:  req.Currency,
		Name:      name,
		Address:   req.Address,
		CreatedAt: time.Now().UTC(),
	}
	s.wallets[w.ID] = w
	return http.StatusCreated, w
}

func (s *Service) deleteWallet(r *http.Request) (int, any) {
	id := ledger.ID(chi.URLParam(r, "id"))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[id]; !ok {
		return http.StatusNotFound, errorBody("Wallet not found")
	}
	delete(s.wallets, id)
	delete(s.txs, id)
	return http.StatusOK, map[string]string{"message": "Wallet deleted successfully"}
}

func (s *Service) listTransactions(r *http.Request) (int, any) {
	id := ledger.ID(chi.URLParam(r, "id"))
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.txs[id]
	out := make([]ledger.Transaction, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i])
	}
	return http.StatusOK, out
}

func (s *Service) createTransaction(r *http.Request) (int, any) {
	var req ledger.NewTransaction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return http.StatusBadRequest, errorBody(err.Error())
	}
	if err := req.Validate(); err != nil {
		return http.StatusBadRequest, errorBody(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[req.WalletID]; !ok {
		return http.StatusNotFound, errorBody("Wallet not found")
	}
	s.nextTx++
	tx := ledger.Transaction{
		ID:          ledger.ID(strconv.Itoa(s.nextTx)),
		WalletID:    req.WalletID,
		Type:        req.Type,
		Amount:      req.Amount,
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		TxHash:      req.TxHash,
		Status:      req.Status,
		CreatedAt:   time.Now().UTC(),
	}
	s.txs[req.WalletID] = append(s.txs[req.WalletID], tx)
	return http.StatusCreated, tx
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody(msg))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
