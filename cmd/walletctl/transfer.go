package main

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-wallet/internal/coordinator"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/reconcile"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
	"github.com/spf13/cobra"
)

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <wallet-id> <to-address> <amount>",
		Short: "Send coins and record the transfer in the ledger",
		Long: "Send coins from a wallet. Exit status 2 means the transfer may be on chain\n" +
			"but is not fully recorded yet: run walletctl reconcile, do not resend.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openWithWallets(ctx, true)
			if err != nil {
				return err
			}
			defer s.Stop()

			id := ledger.ID(args[0])
			if _, err := s.Registry().Activate(ctx, id); err != nil {
				return err
			}
			tx, err := s.Coordinator().CreateTransfer(ctx, id, args[1], args[2])
			if err != nil {
				var pending *coordinator.PendingError
				var lw *coordinator.LedgerWriteError
				switch {
				case errors.As(err, &pending):
					fmt.Fprintf(cmd.ErrOrStderr(), "Transaction %s was broadcast but not confirmed; it is queued for reconciliation.\n", pending.TxHash.Hex())
				case errors.As(err, &lw):
					fmt.Fprintf(cmd.ErrOrStderr(), "Transaction %s is confirmed but the ledger write failed; it is queued for reconciliation.\n", lw.TxHash.Hex())
				}
				return err
			}
			return a.printTransaction(tx)
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <wallet-id>",
		Short: "List a wallet's recorded transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx, false)
			if err != nil {
				return err
			}
			defer s.Stop()

			txs, err := s.Coordinator().History(ctx, ledger.ID(args[0]))
			if err != nil {
				return err
			}
			return a.printHistory(txs)
		},
	}
}

func (a *app) feeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fee",
		Short: "Estimate the network fee of a transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx, false)
			if err != nil {
				return err
			}
			defer s.Stop()

			fee, err := s.Coordinator().Estimate(ctx)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return writeJSON(a.out, map[string]string{"fee": types.FormatAmount(fee), "currency": a.cfg.Chain.Currency})
			}
			fmt.Fprintf(a.out, "%s %s\n", types.FormatAmount(fee), a.cfg.Chain.Currency)
			return nil
		},
	}
}

func (a *app) reconcileCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle journaled transfers against the chain and the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx, false)
			if err != nil {
				return err
			}
			defer s.Stop()

			rep, runErr := s.Reconciler().Run(ctx)
			var pending []reconcile.Entry
			if list {
				pending, err = s.Journal().List()
				if err != nil {
					return err
				}
			}
			if err := a.printReconcile(rep, pending); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "Show entries still pending after the pass")
	return cmd
}
