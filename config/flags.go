package config

import (
	"github.com/spf13/pflag"
)

// Flags holds the global command-line flags.
type Flags struct {
	Network        string
	DataDir        string
	Config         string
	Owner          string
	RPC            string
	Ledger         string
	LedgerToken    string
	Vault          string
	PassphraseFile string
	LogLevel       string
	LogFile        string
	LogJSON        bool

	fs *pflag.FlagSet
}

// Register adds the global flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	f.fs = fs
	fs.StringVar(&f.Network, "network", "", "Network: mainnet, testnet or dev")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory (default: ~/.klingnet-wallet)")
	fs.StringVarP(&f.Config, "config", "c", "", "Config file path (default: <datadir>/walletctl.conf)")
	fs.StringVar(&f.Owner, "owner", "", "Ledger user id whose wallets are managed")
	fs.StringVar(&f.RPC, "rpc", "", "Chain node JSON-RPC URL")
	fs.StringVar(&f.Ledger, "ledger", "", "Ledger service base URL")
	fs.StringVar(&f.LedgerToken, "ledger-token", "", "Ledger bearer token")
	fs.StringVar(&f.Vault, "vault", "", "Key vault: db, file or none")
	fs.StringVar(&f.PassphraseFile, "passphrase-file", "", "Read the vault passphrase from this file")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")
}

// ApplyFlags applies flags the user set to cfg. Unset flags leave the
// lower layers alone.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Owner != "" {
		cfg.Owner = f.Owner
	}
	if f.RPC != "" {
		cfg.Chain.RPCURL = f.RPC
	}
	if f.Ledger != "" {
		cfg.Ledger.URL = f.Ledger
	}
	if f.LedgerToken != "" {
		cfg.Ledger.Token = f.LedgerToken
	}
	if f.Vault != "" {
		cfg.Vault.Kind = VaultKind(f.Vault)
	}
	if f.PassphraseFile != "" {
		cfg.Vault.PassphraseFile = f.PassphraseFile
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.fs != nil && f.fs.Changed("log-json") {
		cfg.Log.JSON = f.LogJSON
	}
}
