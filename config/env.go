package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable walletctl reads.
const EnvPrefix = "KLINGNET_WALLET_"

// envKeys maps environment variable suffixes to .conf keys.
var envKeys = map[string]string{
	"NETWORK":                    "network",
	"DATADIR":                    "datadir",
	"OWNER":                      "owner",
	"CHAIN_RPC":                  "chain.rpc",
	"CHAIN_CURRENCY":             "chain.currency",
	"CHAIN_CONFIRM_POLL":         "chain.confirm_poll",
	"CHAIN_CONFIRM_TIMEOUT":      "chain.confirm_timeout",
	"LEDGER_URL":                 "ledger.url",
	"LEDGER_TOKEN":               "ledger.token",
	"LEDGER_TIMEOUT":             "ledger.timeout",
	"VAULT_KIND":                 "vault.kind",
	"VAULT_PASSPHRASE_FILE":      "vault.passphrase_file",
	"POLL_INTERVAL":              "poll.interval",
	"RECONCILE_INTERVAL":         "reconcile.interval",
	"TRANSFER_PARAM_RETRIES":     "transfer.param_retries",
	"TRANSFER_BROADCAST_RETRIES": "transfer.broadcast_retries",
	"TRANSFER_LEDGER_RETRIES":    "transfer.ledger_retries",
	"TRANSFER_RETRY_INITIAL":     "transfer.retry_initial",
	"TRANSFER_RETRY_MAX":         "transfer.retry_max",
	"TRANSFER_RECORD_RECEIVE":    "transfer.record_receive",
	"METRICS_ADDR":               "metrics.addr",
	"LOG_LEVEL":                  "log.level",
	"LOG_FILE":                   "log.file",
	"LOG_JSON":                   "log.json",
}

// passphraseVar holds the vault passphrase. It is the only source of the
// passphrase besides a file or a prompt.
const passphraseVar = EnvPrefix + "PASSPHRASE"

// LoadEnv reads KLINGNET_WALLET_* settings from envFile (if it exists) and
// then from the process environment, which wins. The returned map uses
// .conf keys. The passphrase, if present, is set on cfg directly.
func LoadEnv(cfg *Config, envFile string) (map[string]string, error) {
	fileVars := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVars = vars
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	lookup := func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := fileVars[name]
		return v, ok
	}

	values := make(map[string]string)
	for suffix, key := range envKeys {
		if v, ok := lookup(EnvPrefix + suffix); ok {
			values[key] = v
		}
	}
	if v, ok := lookup(passphraseVar); ok {
		cfg.Vault.Passphrase = v
	}
	return values, nil
}
