package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/config"
	"github.com/Klingon-tech/klingnet-wallet/internal/chain"
	"github.com/Klingon-tech/klingnet-wallet/internal/coordinator"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger/ledgertest"
	"github.com/Klingon-tech/klingnet-wallet/internal/oracle"
	"github.com/Klingon-tech/klingnet-wallet/internal/registry"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes walletctl with args against a fresh data dir and ledger URL.
func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a.out = &out
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func baseArgs(dataDir, ledgerURL string) []string {
	return []string{
		"--network", "dev",
		"--datadir", dataDir,
		"--ledger", ledgerURL,
		"--owner", "u1",
		"--output", "json",
		"--log-level", "error",
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitError, exitCode(errors.New("boom")))
	assert.Equal(t, exitUnsettled, exitCode(fmt.Errorf("send: %w", &coordinator.PendingError{Err: chain.ErrNotConfirmed})))
	assert.Equal(t, exitUnsettled, exitCode(&coordinator.LedgerWriteError{Err: errors.New("503")}))
}

func TestVersion(t *testing.T) {
	out, err := run(t, newApp(nil), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "walletctl dev")
}

func TestInvalidOutput(t *testing.T) {
	_, err := run(t, newApp(nil), "--output", "yaml", "version")
	assert.ErrorContains(t, err, "invalid --output")
}

func TestInitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, newApp(nil), "--datadir", dir, "--network", "dev", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "walletctl.conf")

	_, err = run(t, newApp(nil), "--datadir", dir, "--network", "dev", "init")
	assert.ErrorContains(t, err, "exists")
}

func TestWalletLifecycle(t *testing.T) {
	svc := ledgertest.New("")
	srv := svc.Start()
	t.Cleanup(srv.Close)
	t.Setenv("KLINGNET_WALLET_PASSPHRASE", "correct horse")
	base := baseArgs(t.TempDir(), srv.URL)

	out, err := run(t, newApp(nil), append(base, "create", "--name", "main")...)
	require.NoError(t, err)
	var created walletView
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "main", created.Name)
	assert.True(t, common.IsHexAddress(created.Address))
	assert.Nil(t, created.Balance)

	out, err = run(t, newApp(nil), append(base, "list")...)
	require.NoError(t, err)
	var listed []walletView
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
	assert.False(t, listed[0].Connected, "list does not unlock keys")

	out, err = run(t, newApp(nil), append(base, "history", string(created.ID))...)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = run(t, newApp(nil), append(base, "remove", string(created.ID))...)
	require.NoError(t, err)
	_, ok := svc.Wallet(created.ID)
	assert.False(t, ok)
}

func TestCreateWithMnemonic(t *testing.T) {
	svc := ledgertest.New("")
	srv := svc.Start()
	t.Cleanup(srv.Close)
	t.Setenv("KLINGNET_WALLET_PASSPHRASE", "correct horse")

	a := newApp(nil)
	var out, stderr bytes.Buffer
	a.out = &out
	root := newRootCmd(a)
	root.SetArgs(append(baseArgs(t.TempDir(), srv.URL), "create", "--mnemonic", "--name", "recoverable"))
	root.SetErr(&stderr)
	require.NoError(t, root.ExecuteContext(context.Background()))

	var created walletView
	require.NoError(t, json.Unmarshal(out.Bytes(), &created))
	assert.Equal(t, "recoverable", created.Name)
	assert.NotContains(t, out.String(), "Recovery phrase")

	var phrase string
	for _, line := range strings.Split(stderr.String(), "\n") {
		if len(strings.Fields(line)) == 24 {
			phrase = strings.TrimSpace(line)
		}
	}
	require.NotEmpty(t, phrase, "phrase printed to stderr")
	assert.True(t, wallet.ValidateMnemonic(phrase))

	key, err := wallet.KeyFromMnemonic(phrase)
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(key.Address().Hex(), created.Address), "wallet derives from the printed phrase")
}

func TestCreateWithMnemonic_WrongCurrency(t *testing.T) {
	svc := ledgertest.New("")
	srv := svc.Start()
	t.Cleanup(srv.Close)
	t.Setenv("KLINGNET_WALLET_PASSPHRASE", "correct horse")

	_, err := run(t, newApp(nil), append(baseArgs(t.TempDir(), srv.URL), "create", "--mnemonic", "--currency", "BTC")...)
	assert.ErrorIs(t, err, registry.ErrUnsupportedCurrency)
	assert.Equal(t, 0, svc.Calls(ledgertest.RouteCreateWallet))
}

func TestOwnerRequired(t *testing.T) {
	svc := ledgertest.New("")
	srv := svc.Start()
	t.Cleanup(srv.Close)

	args := []string{"--network", "dev", "--datadir", t.TempDir(), "--ledger", srv.URL, "--vault", "none", "list"}
	_, err := run(t, newApp(nil), args...)
	assert.ErrorContains(t, err, "owner is required")
}

func TestPassphraseSources(t *testing.T) {
	a := newApp(nil)
	a.cfg = config.DefaultDev()

	a.cfg.Vault.Passphrase = "from-env"
	pass, err := a.passphrase()
	require.NoError(t, err)
	assert.Equal(t, "from-env", string(pass))

	a.cfg.Vault.Passphrase = ""
	a.prompt = func(string) ([]byte, error) { return []byte("typed"), nil }
	pass, err = a.passphrase()
	require.NoError(t, err)
	assert.Equal(t, "typed", string(pass))

	a.prompt = func(string) ([]byte, error) { return nil, errNoTerminal }
	_, err = a.passphrase()
	assert.ErrorIs(t, err, errNoTerminal)
	assert.ErrorContains(t, err, "KLINGNET_WALLET_PASSPHRASE")
}

func TestPrintWallets_Text(t *testing.T) {
	var out bytes.Buffer
	a := &app{out: &out, output: "text"}
	bal := decimal.RequireFromString("1.5")
	require.NoError(t, a.printWallets([]*registry.Wallet{
		{ID: "w1", Name: "main", Currency: "ETH", Address: common.HexToAddress("0x01"), Balance: &bal, IsConnected: true},
		{ID: "w2", Name: "cold", Currency: "ETH", Address: common.HexToAddress("0x02")},
	}))
	text := out.String()
	assert.Contains(t, text, "1.5 ETH")
	assert.Contains(t, text, "w2")
	assert.Contains(t, text, "-")

	out.Reset()
	require.NoError(t, a.printWallets(nil))
	assert.Equal(t, "No wallets.\n", out.String())
}

func TestPrintChange(t *testing.T) {
	var out bytes.Buffer
	a := &app{out: &out, output: "json", cfg: config.DefaultDev()}
	addr := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	require.NoError(t, a.printChange(oracle.Change{
		Address: addr,
		Current: oracle.Balance{Address: addr, Wei: big.NewInt(5e17), Amount: decimal.RequireFromString("0.5"), UpdatedAt: time.Unix(0, 0)},
	}))

	var v changeView
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Equal(t, addr.Hex(), v.Address)
	assert.Nil(t, v.Previous)
	assert.Equal(t, "0.5", v.Current)
}
