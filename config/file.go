package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file. A missing file yields
// no values.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key. The passphrase has no key;
// it is never read from the .conf file.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value
	case "owner":
		cfg.Owner = value

	// Chain
	case "chain.rpc":
		cfg.Chain.RPCURL = value
	case "chain.currency":
		cfg.Chain.Currency = value
	case "chain.confirm_poll":
		cfg.Chain.ConfirmPoll, err = time.ParseDuration(value)
	case "chain.confirm_timeout":
		cfg.Chain.ConfirmTimeout, err = time.ParseDuration(value)

	// Ledger
	case "ledger.url":
		cfg.Ledger.URL = value
	case "ledger.token":
		cfg.Ledger.Token = value
	case "ledger.timeout":
		cfg.Ledger.Timeout, err = time.ParseDuration(value)

	// Vault
	case "vault.kind":
		cfg.Vault.Kind = VaultKind(strings.ToLower(value))
	case "vault.passphrase_file":
		cfg.Vault.PassphraseFile = value

	// Polling and reconciliation
	case "poll.interval":
		cfg.Poll.Interval, err = time.ParseDuration(value)
	case "reconcile.interval":
		cfg.Reconcile.Interval, err = time.ParseDuration(value)

	// Transfers
	case "transfer.param_retries":
		cfg.Transfer.ParamRetries, err = strconv.Atoi(value)
	case "transfer.broadcast_retries":
		cfg.Transfer.BroadcastRetries, err = strconv.Atoi(value)
	case "transfer.ledger_retries":
		cfg.Transfer.LedgerRetries, err = strconv.Atoi(value)
	case "transfer.retry_initial":
		cfg.Transfer.RetryInitial, err = time.ParseDuration(value)
	case "transfer.retry_max":
		cfg.Transfer.RetryMax, err = time.ParseDuration(value)
	case "transfer.record_receive":
		cfg.Transfer.RecordReceive = parseBool(value)

	// Metrics
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	d := Default(network)
	content := `# Klingnet Wallet Configuration
#
# Secrets do not belong here. Set the vault passphrase with
# KLINGNET_WALLET_PASSPHRASE, vault.passphrase_file, or the prompt.

# Network: mainnet, testnet or dev
network = ` + string(network) + `

# Data directory (default: ~/.klingnet-wallet)
# datadir = ~/.klingnet-wallet

# Ledger user whose wallets this session manages
# owner =

# ============================================================================
# Chain
# ============================================================================

chain.rpc = ` + d.Chain.RPCURL + `
chain.currency = ` + d.Chain.Currency + `
chain.confirm_poll = ` + d.Chain.ConfirmPoll.String() + `
chain.confirm_timeout = ` + d.Chain.ConfirmTimeout.String() + `

# ============================================================================
# Ledger
# ============================================================================

ledger.url = ` + d.Ledger.URL + `
# ledger.token =
ledger.timeout = ` + d.Ledger.Timeout.String() + `

# ============================================================================
# Keys
# ============================================================================

# Where encrypted keys are kept: db, file or none
vault.kind = ` + string(d.Vault.Kind) + `
# vault.passphrase_file =

# ============================================================================
# Balances, transfers and reconciliation
# ============================================================================

poll.interval = ` + d.Poll.Interval.String() + `
reconcile.interval = ` + d.Reconcile.Interval.String() + `
transfer.param_retries = ` + strconv.Itoa(d.Transfer.ParamRetries) + `
transfer.broadcast_retries = ` + strconv.Itoa(d.Transfer.BroadcastRetries) + `
transfer.ledger_retries = ` + strconv.Itoa(d.Transfer.LedgerRetries) + `
transfer.retry_initial = ` + d.Transfer.RetryInitial.String() + `
transfer.retry_max = ` + d.Transfer.RetryMax.String() + `
transfer.record_receive = ` + strconv.FormatBool(d.Transfer.RecordReceive) + `

# ============================================================================
# Metrics and logging
# ============================================================================

# metrics.addr = 127.0.0.1:9464
log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0600)
}
