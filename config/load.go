package config

import (
	"fmt"
	"os"
)

// Load builds the session config: defaults for the network, the .conf
// file, the .env file and environment, then flags. The result is
// validated.
func Load(f *Flags) (*Config, error) {
	// Network and datadir decide which defaults and files apply, so they
	// are resolved from the environment and flags first.
	network := NetworkType(os.Getenv(EnvPrefix + "NETWORK"))
	if f.Network != "" {
		network = NetworkType(f.Network)
	}
	cfg := Default(network)
	if d := os.Getenv(EnvPrefix + "DATADIR"); d != "" {
		cfg.DataDir = d
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	path := f.Config
	if path == "" {
		path = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, err
	}

	envValues, err := LoadEnv(cfg, cfg.EnvFile())
	if err != nil {
		return nil, err
	}
	if err := ApplyFileConfig(cfg, envValues); err != nil {
		return nil, err
	}

	ApplyFlags(cfg, f)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
