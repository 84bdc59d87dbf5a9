package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks the config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Testnet, Dev:
	default:
		return fmt.Errorf("network must be %q, %q or %q", Mainnet, Testnet, Dev)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is empty")
	}

	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc is required on %s", cfg.Network)
	}
	if err := validateURL(cfg.Chain.RPCURL, "chain.rpc", "http", "https", "ws", "wss"); err != nil {
		return err
	}
	cfg.Chain.Currency = strings.ToUpper(strings.TrimSpace(cfg.Chain.Currency))
	if cfg.Chain.Currency == "" {
		return fmt.Errorf("chain.currency is empty")
	}

	if cfg.Ledger.URL == "" {
		return fmt.Errorf("ledger.url is required")
	}
	if err := validateURL(cfg.Ledger.URL, "ledger.url", "http", "https"); err != nil {
		return err
	}

	switch cfg.Vault.Kind {
	case VaultDB, VaultFile, VaultNone:
	case "":
		cfg.Vault.Kind = VaultDB
	default:
		return fmt.Errorf("vault.kind must be db, file or none")
	}

	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"chain.confirm_poll", cfg.Chain.ConfirmPoll},
		{"chain.confirm_timeout", cfg.Chain.ConfirmTimeout},
		{"ledger.timeout", cfg.Ledger.Timeout},
		{"poll.interval", cfg.Poll.Interval},
		{"reconcile.interval", cfg.Reconcile.Interval},
		{"transfer.retry_initial", cfg.Transfer.RetryInitial},
		{"transfer.retry_max", cfg.Transfer.RetryMax},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if cfg.Transfer.RetryMax < cfg.Transfer.RetryInitial {
		return fmt.Errorf("transfer.retry_max must not be below transfer.retry_initial")
	}
	for _, r := range []struct {
		name string
		v    int
	}{
		{"transfer.param_retries", cfg.Transfer.ParamRetries},
		{"transfer.broadcast_retries", cfg.Transfer.BroadcastRetries},
		{"transfer.ledger_retries", cfg.Transfer.LedgerRetries},
	} {
		if r.v < 0 {
			return fmt.Errorf("%s must not be negative", r.name)
		}
	}
	return nil
}

func validateURL(raw, field string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", field)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %s", field, strings.Join(schemes, ", "))
}
