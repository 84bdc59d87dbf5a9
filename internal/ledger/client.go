package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/google/uuid"
)

// RequestIDHeader carries the per-call request id.
const RequestIDHeader = "X-Request-ID"

// APIError is returned for non-2xx responses other than 404 and 409.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger error %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
}

// Client is an HTTP client for the ledger REST API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a client for the ledger at baseURL.
func New(baseURL string) *Client {
	return NewWithTimeout(baseURL, 10*time.Second)
}

// NewWithTimeout creates a client with a custom HTTP timeout.
func NewWithTimeout(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// SetToken sets a bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) ListWallets(ctx context.Context, ownerID string) ([]Wallet, error) {
	var out []Wallet
	if err := c.do(ctx, http.MethodGet, "/wallets/"+url.PathEscape(ownerID), nil, &out); err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return out, nil
}

func (c *Client) CreateWallet(ctx context.Context, w NewWallet) (*Wallet, error) {
	var out Wallet
	if err := c.do(ctx, http.MethodPost, "/wallets", w, &out); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return &out, nil
}

func (c *Client) DeleteWallet(ctx context.Context, id ID) error {
	if err := c.do(ctx, http.MethodDelete, "/wallets/"+url.PathEscape(string(id)), nil, nil); err != nil {
		return fmt.Errorf("delete wallet %s: %w", id, err)
	}
	return nil
}

func (c *Client) ListTransactions(ctx context.Context, walletID ID) ([]Transaction, error) {
	var out []Transaction
	if err := c.do(ctx, http.MethodGet, "/transactions/wallet/"+url.PathEscape(string(walletID)), nil, &out); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func (c *Client) CreateTransaction(ctx context.Context, tx NewTransaction) (*Transaction, error) {
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	var out Transaction
	if err := c.do(ctx, http.MethodPost, "/transactions", tx, &out); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return &out, nil
}

// do sends one request and decodes a 2xx JSON body into result.
// If result is nil, the body is discarded.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	log.Ledger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", reqID).
		Msg("Ledger call")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, errorMessage(data))
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, errorMessage(data))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data), RequestID: reqID}
	}

	if result != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts {"error": "..."} from a response body.
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return "empty response"
	}
	return msg
}

var _ Ledger = (*Client)(nil)
