package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	klog "github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/oracle"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type changeView struct {
	Address  string    `json:"address"`
	Previous *string   `json:"previous"`
	Current  string    `json:"current"`
	At       time.Time `json:"at"`
}

func (a *app) watchCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll balances and reconcile in the background until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				a.registry = prometheus.NewRegistry()
				a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			}

			s, err := a.openWithWallets(ctx, false)
			if err != nil {
				return err
			}
			defer s.Stop()

			changes, unsubscribe := s.Oracle().Subscribe()
			defer unsubscribe()

			if metricsAddr != "" {
				srv := newMetricsServer(metricsAddr, a.registry)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						klog.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics server failed")
					}
				}()
				defer shutdown(srv)
				klog.Info().Str("addr", metricsAddr).Msg("Serving metrics")
			}

			if err := s.Start(ctx); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case c := <-changes:
					if err := a.printChange(c); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func (a *app) printChange(c oracle.Change) error {
	v := changeView{
		Address: c.Address.Hex(),
		Current: types.FormatAmount(c.Current.Amount),
		At:      c.Current.UpdatedAt,
	}
	if c.Previous != nil {
		p := types.FormatAmount(c.Previous.Amount)
		v.Previous = &p
	}
	if a.output == "json" {
		return writeJSON(a.out, v)
	}
	prev := "-"
	if v.Previous != nil {
		prev = *v.Previous
	}
	_, err := fmt.Fprintf(a.out, "%s  %s  %s -> %s %s\n",
		v.At.Local().Format("15:04:05"), v.Address, prev, v.Current, a.cfg.Chain.Currency)
	return err
}
