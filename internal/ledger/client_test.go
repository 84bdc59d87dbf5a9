package ledger_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger/ledgertest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func setup(t *testing.T, token string) (*ledgertest.Service, *ledger.Client) {
	t.Helper()
	svc := ledgertest.New(token)
	srv := svc.Start()
	t.Cleanup(srv.Close)
	c := ledger.New(srv.URL + "/")
	c.SetToken(token)
	return svc, c
}

func TestClient_WalletLifecycle(t *testing.T) {
	_, c := setup(t, "")
	ctx := context.Background()

	w, err := c.CreateWallet(ctx, ledger.NewWallet{OwnerID: "u1", Currency: "ETH", Address: testAddr})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, "ETH Wallet", w.Name)
	assert.Nil(t, w.Balance)

	list, err := c.ListWallets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, w.ID, list[0].ID)

	others, err := c.ListWallets(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = c.CreateWallet(ctx, ledger.NewWallet{OwnerID: "u2", Currency: "ETH", Address: testAddr})
	assert.ErrorIs(t, err, ledger.ErrConflict)

	require.NoError(t, c.DeleteWallet(ctx, w.ID))
	assert.ErrorIs(t, c.DeleteWallet(ctx, w.ID), ledger.ErrNotFound)
}

func TestClient_Transactions(t *testing.T) {
	svc, c := setup(t, "")
	ctx := context.Background()

	w, err := c.CreateWallet(ctx, ledger.NewWallet{OwnerID: "u1", Currency: "ETH", Address: testAddr, Name: "main"})
	require.NoError(t, err)
	assert.Equal(t, "main", w.Name)

	for _, h := range []string{"0x01", "0x02"} {
		_, err := c.CreateTransaction(ctx, ledger.NewTransaction{
			WalletID:    w.ID,
			Type:        ledger.TxSend,
			Amount:      decimal.RequireFromString("0.25"),
			FromAddress: testAddr,
			ToAddress:   "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			TxHash:      h,
			Status:      ledger.StatusCompleted,
		})
		require.NoError(t, err)
	}

	txs, err := c.ListTransactions(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "0x02", txs[0].TxHash, "newest first")
	assert.True(t, txs[0].Amount.Equal(decimal.RequireFromString("0.25")))

	found, err := ledger.FindByHash(ctx, c, w.ID, "0x01", ledger.TxSend)
	require.NoError(t, err)
	assert.Equal(t, "0x01", found.TxHash)
	_, err = ledger.FindByHash(ctx, c, w.ID, "0x01", ledger.TxReceive)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, c.DeleteWallet(ctx, w.ID))
	assert.Empty(t, svc.Transactions(w.ID), "delete cascades")
}

func TestClient_RejectsInvalidTransactionLocally(t *testing.T) {
	svc, c := setup(t, "")
	_, err := c.CreateTransaction(context.Background(), ledger.NewTransaction{
		WalletID: "w", Type: ledger.TxSend, Amount: decimal.Zero, Status: ledger.StatusPending,
	})
	assert.Error(t, err)
	assert.Equal(t, 0, svc.Calls(ledgertest.RouteCreateTransaction))
}

func TestClient_APIError(t *testing.T) {
	svc, c := setup(t, "")
	svc.Fail(ledgertest.RouteListWallets, ledgertest.Fault{Status: http.StatusInternalServerError})

	_, err := c.ListWallets(context.Background(), "u1")
	var apiErr *ledger.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "injected failure", apiErr.Message)
	assert.True(t, ledger.Retryable(err))

	_, err = c.ListWallets(context.Background(), "u1")
	assert.NoError(t, err, "fault consumed")
}

func TestClient_Unavailable(t *testing.T) {
	c := ledger.New("http://127.0.0.1:1")
	_, err := c.ListWallets(context.Background(), "u1")
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestClient_TokenAndRequestID(t *testing.T) {
	svc, c := setup(t, "s3cret")
	_, err := c.ListWallets(context.Background(), "u1")
	require.NoError(t, err)

	ids := svc.RequestIDs()
	require.Len(t, ids, 1)
	_, err = uuid.Parse(ids[0])
	assert.NoError(t, err)

	c.SetToken("wrong")
	_, err = c.ListWallets(context.Background(), "u1")
	var apiErr *ledger.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
