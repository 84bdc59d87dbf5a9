package main

import (
	"fmt"
	"strings"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/registry"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/spf13/cobra"
)

func (a *app) createCmd() *cobra.Command {
	var name, currency string
	var withMnemonic bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a key and register a new wallet",
		Long: "Generate a key and register a new wallet.\n" +
			"With --mnemonic the key is derived from a new 24-word phrase, printed\n" +
			"once to stderr. Write it down; it is not stored anywhere else.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openWithWallets(ctx, true)
			if err != nil {
				return err
			}
			defer s.Stop()

			var w *registry.Wallet
			if withMnemonic {
				if currency != "" && !strings.EqualFold(currency, s.Registry().Currency()) {
					return fmt.Errorf("%w: %s", registry.ErrUnsupportedCurrency, currency)
				}
				phrase, err := wallet.GenerateMnemonic()
				if err != nil {
					return err
				}
				w, err = s.Registry().ImportWallet(ctx, a.cfg.Owner, phrase, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Recovery phrase (shown once):\n\n  %s\n\n", phrase)
			} else {
				w, err = s.Registry().CreateWallet(ctx, a.cfg.Owner, currency, name)
				if err != nil {
					return err
				}
			}
			return a.printWallet(w)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", `Wallet name (default "<CUR> Wallet")`)
	cmd.Flags().StringVar(&currency, "currency", "", "Currency code (default: chain currency)")
	cmd.Flags().BoolVar(&withMnemonic, "mnemonic", false, "Derive the key from a new BIP-39 recovery phrase")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var name, secretFile string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a private key or mnemonic as a new wallet",
		Long: "Import a 32-byte hex private key or a BIP-39 mnemonic (first account).\n" +
			"The secret is read from --secret-file or prompted for; it is never a flag value.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if secretFile != "" {
				s, err := readSecretFile(secretFile)
				if err != nil {
					return err
				}
				secret = s
			} else {
				b, err := a.prompt("Private key or mnemonic: ")
				if err != nil {
					return err
				}
				secret = string(b)
				zero(b)
			}

			ctx := cmd.Context()
			s, err := a.openWithWallets(ctx, true)
			if err != nil {
				return err
			}
			defer s.Stop()

			w, err := s.Registry().ImportWallet(ctx, a.cfg.Owner, secret, name)
			if err != nil {
				return err
			}
			return a.printWallet(w)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Wallet name")
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "Read the key or mnemonic from this file")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the owner's wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openWithWallets(ctx, false)
			if err != nil {
				return err
			}
			defer s.Stop()

			if refresh {
				if err := s.Oracle().RefreshAll(ctx, s.Oracle().Tracked()); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
				}
			}
			ws, err := s.Registry().ListWallets(ctx, a.cfg.Owner)
			if err != nil {
				return err
			}
			return a.printWallets(ws)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch balances from the chain first")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <wallet-id>",
		Short: "Delete a wallet, its ledger history and its stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openWithWallets(ctx, true)
			if err != nil {
				return err
			}
			defer s.Stop()

			id := ledger.ID(args[0])
			if err := s.Registry().RemoveWallet(ctx, id); err != nil {
				return err
			}
			n, err := s.Journal().RemoveWallet(id)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return writeJSON(a.out, map[string]any{"removed": id, "dropped_pending": n})
			}
			fmt.Fprintf(a.out, "Removed wallet %s\n", id)
			return nil
		},
	}
}

func (a *app) activateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <wallet-id>",
		Short: "Unlock a wallet's stored key and show its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openWithWallets(ctx, true)
			if err != nil {
				return err
			}
			defer s.Stop()

			w, err := s.Registry().Activate(ctx, ledger.ID(args[0]))
			if err != nil {
				return err
			}
			if _, err := s.Oracle().Refresh(ctx, w.Address); err == nil {
				w, _ = s.Registry().Get(w.ID)
			}
			return a.printWallet(w)
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [wallet-id]",
		Short: "Fetch on-chain balances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openWithWallets(ctx, false)
			if err != nil {
				return err
			}
			defer s.Stop()

			var ws []*registry.Wallet
			if len(args) == 1 {
				w, err := s.Registry().Get(ledger.ID(args[0]))
				if err != nil {
					return err
				}
				ws = []*registry.Wallet{w}
			} else if ws, err = s.Registry().ListWallets(ctx, a.cfg.Owner); err != nil {
				return err
			}

			out := make([]*registry.Wallet, 0, len(ws))
			for _, w := range ws {
				if _, err := s.Oracle().Refresh(ctx, w.Address); err != nil {
					// The cached value, if any, is still shown.
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s: %v\n", w.ID, err)
				}
				fresh, err := s.Registry().Get(w.ID)
				if err != nil {
					return err
				}
				out = append(out, fresh)
			}
			if len(args) == 1 {
				return a.printWallet(out[0])
			}
			return a.printWallets(out)
		},
	}
}
