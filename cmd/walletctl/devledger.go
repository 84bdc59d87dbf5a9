package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger/ledgertest"
	klog "github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/spf13/cobra"
)

func (a *app) devLedgerCmd() *cobra.Command {
	var listen, token string
	cmd := &cobra.Command{
		Use:         "dev-ledger",
		Short:       "Serve an in-memory ledger for local development",
		Long:        "Serve the ledger REST API from memory. Data is lost on exit.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := &http.Server{
				Addr:              listen,
				Handler:           ledgertest.New(token).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			klog.Info().Str("addr", listen).Bool("auth", token != "").Msg("Dev ledger listening")

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				shutdown(srv)
				if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:3001", "Listen address")
	cmd.Flags().StringVar(&token, "token", "", "Require this bearer token")
	return cmd
}
