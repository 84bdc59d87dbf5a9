// Package config handles walletctl configuration.
//
// Settings are layered: built-in defaults for the network, then the .conf
// file, then the .env file and KLINGNET_WALLET_* environment variables, then
// command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType selects default endpoints and the data subdirectory.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	// Dev targets a local node (Hardhat, Anvil) and walletctl dev-ledger.
	Dev NetworkType = "dev"
)

// Config holds runtime settings for one wallet session.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`
	// Owner is the ledger user whose wallets the session manages.
	Owner string `conf:"owner"`

	Chain     ChainConfig
	Ledger    LedgerConfig
	Vault     VaultConfig
	Poll      PollConfig
	Transfer  TransferConfig
	Reconcile ReconcileConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

// ChainConfig holds blockchain node settings.
type ChainConfig struct {
	RPCURL   string `conf:"chain.rpc"`
	Currency string `conf:"chain.currency"`
	// ConfirmPoll is the receipt polling interval while confirming.
	ConfirmPoll time.Duration `conf:"chain.confirm_poll"`
	// ConfirmTimeout bounds the confirmation wait of one transfer.
	ConfirmTimeout time.Duration `conf:"chain.confirm_timeout"`
}

// LedgerConfig holds ledger service settings.
type LedgerConfig struct {
	URL     string        `conf:"ledger.url"`
	Token   string        `conf:"ledger.token"`
	Timeout time.Duration `conf:"ledger.timeout"`
}

// VaultKind selects where encrypted keys are kept.
type VaultKind string

const (
	// VaultDB keeps keys in the session database.
	VaultDB VaultKind = "db"
	// VaultFile keeps one key file per wallet in KeysDir.
	VaultFile VaultKind = "file"
	// VaultNone keeps keys in memory only.
	VaultNone VaultKind = "none"
)

// VaultConfig holds key persistence settings.
type VaultConfig struct {
	Kind VaultKind `conf:"vault.kind"`
	// PassphraseFile, when set, is read instead of prompting.
	PassphraseFile string `conf:"vault.passphrase_file"`
	// Passphrase is only ever taken from the environment.
	Passphrase string
}

// PollConfig holds balance polling settings.
type PollConfig struct {
	Interval time.Duration `conf:"poll.interval"`
}

// TransferConfig holds retry bounds for transfers.
type TransferConfig struct {
	ParamRetries     int           `conf:"transfer.param_retries"`
	BroadcastRetries int           `conf:"transfer.broadcast_retries"`
	LedgerRetries    int           `conf:"transfer.ledger_retries"`
	RetryInitial     time.Duration `conf:"transfer.retry_initial"`
	RetryMax         time.Duration `conf:"transfer.retry_max"`
	RecordReceive    bool          `conf:"transfer.record_receive"`
}

// ReconcileConfig holds background reconciliation settings.
type ReconcileConfig struct {
	Interval time.Duration `conf:"reconcile.interval"`
}

// MetricsConfig holds the prometheus endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-wallet
//	macOS:   ~/Library/Application Support/KlingnetWallet
//	Windows: %APPDATA%\KlingnetWallet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-wallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetWallet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetWallet")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetWallet")
	default:
		return filepath.Join(home, ".klingnet-wallet")
	}
}

// NetworkDir returns the network-specific data directory.
func (c *Config) NetworkDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the session database directory (key vault and journal).
func (c *Config) DBDir() string {
	return filepath.Join(c.NetworkDir(), "db")
}

// KeysDir returns the file vault directory.
func (c *Config) KeysDir() string {
	return filepath.Join(c.NetworkDir(), "keys")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "walletctl.conf")
}

// EnvFile returns the .env file path.
func (c *Config) EnvFile() string {
	return filepath.Join(c.DataDir, ".env")
}
