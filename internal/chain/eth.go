package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Default confirmation polling parameters.
const (
	DefaultPollInterval   = time.Second
	DefaultConfirmTimeout = 2 * time.Minute
)

// EthRPC implements RPC over a go-ethereum JSON-RPC client.
type EthRPC struct {
	client         *ethclient.Client
	pollInterval   time.Duration
	confirmTimeout time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, pollInterval, confirmTimeout time.Duration) (*EthRPC, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewEthRPC(c, pollInterval, confirmTimeout), nil
}

// NewEthRPC wraps an existing client. Zero durations select the defaults.
func NewEthRPC(c *ethclient.Client, pollInterval, confirmTimeout time.Duration) *EthRPC {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	return &EthRPC{client: c, pollInterval: pollInterval, confirmTimeout: confirmTimeout}
}

// Close closes the underlying connection.
func (e *EthRPC) Close() {
	e.client.Close()
}

func (e *EthRPC) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := e.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, unavailable("get balance", err)
	}
	return bal, nil
}

func (e *EthRPC) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := e.client.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, unavailable("get nonce", err)
	}
	return n, nil
}

func (e *EthRPC) GasPrice(ctx context.Context) (*big.Int, error) {
	p, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, unavailable("get gas price", err)
	}
	return p, nil
}

// ChainID returns the node's chain id, cached after the first success.
func (e *EthRPC) ChainID(ctx context.Context) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chainID != nil {
		return new(big.Int).Set(e.chainID), nil
	}
	id, err := e.client.ChainID(ctx)
	if err != nil {
		return nil, unavailable("get chain id", err)
	}
	e.chainID = id
	return new(big.Int).Set(id), nil
}

func (e *EthRPC) Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	err := e.client.SendTransaction(ctx, tx)
	if err == nil {
		return tx.Hash(), nil
	}
	if alreadyKnown(err) {
		log.Chain.Debug().Str("tx", tx.Hash().Hex()).Msg("Transaction already known to node")
		return tx.Hash(), nil
	}
	var rerr rpc.Error
	if errors.As(err, &rerr) {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrBroadcastRejected, rerr.Error())
	}
	return common.Hash{}, unavailable("broadcast", err)
}

func (e *EthRPC) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	r, err := e.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, hash.Hex())
	}
	if err != nil {
		return nil, unavailable("get receipt", err)
	}
	out := &Receipt{
		TxHash:  hash,
		Success: r.Status == types.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out, nil
}

// WaitForConfirmation polls for a receipt until one exists, the confirmation
// timeout passes, or ctx ends. Transient read errors keep the wait going.
func (e *EthRPC) WaitForConfirmation(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		r, err := e.Receipt(ctx, hash)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrReceiptNotFound) {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %s: last error: %v", ErrNotConfirmed, hash.Hex(), lastErr)
			}
			return nil, fmt.Errorf("%w: %s", ErrNotConfirmed, hash.Hex())
		case <-ticker.C:
		}
	}
}

// unavailable wraps a read or transport failure as ErrNodeUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNodeUnavailable, err)
}

// alreadyKnown matches the messages geth, Hardhat and Anvil return when a
// transaction is resubmitted.
func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"already known", "known transaction", "already imported", "already exists"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
