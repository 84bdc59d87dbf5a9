package config

import "time"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Chain: ChainConfig{
			// No public endpoint is assumed; set chain.rpc.
			RPCURL:         "",
			Currency:       "ETH",
			ConfirmPoll:    2 * time.Second,
			ConfirmTimeout: 3 * time.Minute,
		},
		Ledger: LedgerConfig{
			URL:     "http://127.0.0.1:3001/api",
			Timeout: 10 * time.Second,
		},
		Vault: VaultConfig{
			Kind: VaultDB,
		},
		Poll: PollConfig{
			Interval: 15 * time.Second,
		},
		Transfer: TransferConfig{
			ParamRetries:     4,
			BroadcastRetries: 4,
			LedgerRetries:    5,
			RetryInitial:     200 * time.Millisecond,
			RetryMax:         5 * time.Second,
			RecordReceive:    true,
		},
		Reconcile: ReconcileConfig{
			Interval: time.Minute,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	return cfg
}

// DefaultDev returns the default configuration for a local node.
func DefaultDev() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Dev
	cfg.Chain.RPCURL = "http://127.0.0.1:8545"
	cfg.Chain.ConfirmPoll = 250 * time.Millisecond
	cfg.Chain.ConfirmTimeout = 30 * time.Second
	// walletctl dev-ledger listens here by default.
	cfg.Ledger.URL = "http://127.0.0.1:3001"
	cfg.Poll.Interval = 2 * time.Second
	cfg.Reconcile.Interval = 10 * time.Second
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	case Dev:
		return DefaultDev()
	default:
		return DefaultMainnet()
	}
}
