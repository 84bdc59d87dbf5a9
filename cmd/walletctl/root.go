package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Klingon-tech/klingnet-wallet/config"
	klog "github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// skipConfig marks commands that run without a loaded config.
const skipConfig = "skip-config"

// app carries state shared by all commands.
type app struct {
	flags  config.Flags
	output string
	cfg    *config.Config
	out    io.Writer

	// prompt reads a secret without echo.
	prompt func(label string) ([]byte, error)
	// registry is set when a command serves metrics.
	registry *prometheus.Registry
}

func newApp(out io.Writer) *app {
	return &app{out: out, prompt: readSecret}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "walletctl",
		Short:         "Manage wallets and reconcile transfers with the ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.checkOutput(); err != nil {
				return err
			}
			if cmd.Annotations[skipConfig] == "true" {
				return klog.Init(a.flags.LogLevel, a.flags.LogJSON, a.flags.LogFile)
			}
			cfg, err := config.Load(&a.flags)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File)
		},
	}
	a.flags.Register(root.PersistentFlags())
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "Output format: json|text")

	root.AddCommand(
		a.createCmd(),
		a.importCmd(),
		a.listCmd(),
		a.removeCmd(),
		a.activateCmd(),
		a.balanceCmd(),
		a.sendCmd(),
		a.historyCmd(),
		a.feeCmd(),
		a.reconcileCmd(),
		a.watchCmd(),
		a.devLedgerCmd(),
		a.initCmd(),
		&cobra.Command{
			Use:         "version",
			Short:       "Show version",
			Annotations: map[string]string{skipConfig: "true"},
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(a.out, "walletctl %s\n", version)
			},
		},
	)
	return root
}

func (a *app) checkOutput() error {
	switch a.output {
	case "json", "text", "":
		return nil
	default:
		return fmt.Errorf("invalid --output: %s (use json|text)", a.output)
	}
}

// open starts a session for one command. Without keys the vault stays
// locked and no passphrase is asked for. The caller must Stop the session.
func (a *app) open(ctx context.Context, withKeys bool) (*session.Session, error) {
	cfg := a.cfg
	if !withKeys {
		c := *a.cfg
		c.Vault.Kind = config.VaultNone
		cfg = &c
	}
	opts := session.Options{}
	if a.registry != nil {
		opts.Registerer = a.registry
	}
	if cfg.Vault.Kind != config.VaultNone {
		pass, err := a.passphrase()
		if err != nil {
			return nil, err
		}
		defer zero(pass)
		opts.Passphrase = pass
	}
	return session.New(ctx, cfg, opts)
}

// openWithWallets opens a session and loads the owner's wallets.
func (a *app) openWithWallets(ctx context.Context, withKeys bool) (*session.Session, error) {
	if a.cfg.Owner == "" {
		return nil, errors.New("owner is required (--owner or KLINGNET_WALLET_OWNER)")
	}
	s, err := a.open(ctx, withKeys)
	if err != nil {
		return nil, err
	}
	if _, err := s.Registry().ListWallets(ctx, a.cfg.Owner); err != nil {
		s.Stop()
		return nil, fmt.Errorf("load wallets: %w", err)
	}
	return s, nil
}

// passphrase resolves the vault passphrase: environment, then file, then
// an interactive prompt.
func (a *app) passphrase() ([]byte, error) {
	if a.cfg.Vault.Passphrase != "" {
		return []byte(a.cfg.Vault.Passphrase), nil
	}
	if a.cfg.Vault.PassphraseFile != "" {
		return session.ReadPassphraseFile(a.cfg.Vault.PassphraseFile)
	}
	pass, err := a.prompt("Vault passphrase: ")
	if err != nil {
		return nil, fmt.Errorf("%w (set %sPASSPHRASE or --passphrase-file)", err, config.EnvPrefix)
	}
	if len(pass) == 0 {
		return nil, session.ErrNoPassphrase
	}
	return pass, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func (a *app) initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default config file",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			network := config.NetworkType(a.flags.Network)
			if network == "" {
				network = config.Mainnet
			}
			cfg := config.Default(network)
			if a.flags.DataDir != "" {
				cfg.DataDir = a.flags.DataDir
			}
			path := a.flags.Config
			if path == "" {
				path = cfg.ConfigFile()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
				return err
			}
			if err := config.WriteDefaultConfig(path, network); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
