// Package metrics defines the prometheus collectors exported by the wallet
// subsystem. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "klingnet_wallet"

// Metrics groups every collector the wallet packages report to.
type Metrics struct {
	BalanceRefreshes *prometheus.CounterVec
	BalanceChanges   prometheus.Counter
	PollCycles       prometheus.Counter
	PollSkipped      prometheus.Counter
	Transfers        *prometheus.CounterVec
	TransferDuration prometheus.Histogram
	LedgerRetries    prometheus.Counter
	PendingEntries   prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BalanceRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "refreshes_total",
			Help:      "Balance refreshes by result (ok, error).",
		}, []string{"result"}),
		BalanceChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "changes_total",
			Help:      "Refreshes that changed a cached balance.",
		}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "poll_cycles_total",
			Help:      "Completed polling cycles.",
		}),
		PollSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "poll_skipped_total",
			Help:      "Ticks skipped because the previous cycle was still running.",
		}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "transfers_total",
			Help:      "Transfers by final outcome.",
		}, []string{"outcome"}),
		TransferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "transfer_duration_seconds",
			Help:      "Wall time from initiation to a terminal outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		LedgerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "ledger_retries_total",
			Help:      "Retried ledger writes after a confirmed transfer.",
		}),
		PendingEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "pending_entries",
			Help:      "Journal entries awaiting reconciliation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.BalanceRefreshes,
			m.BalanceChanges,
			m.PollCycles,
			m.PollSkipped,
			m.Transfers,
			m.TransferDuration,
			m.LedgerRetries,
			m.PendingEntries,
		)
	}
	return m
}

// RefreshResult counts one balance refresh.
func (m *Metrics) RefreshResult(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.BalanceRefreshes.WithLabelValues("ok").Inc()
	} else {
		m.BalanceRefreshes.WithLabelValues("error").Inc()
	}
}

// BalanceChanged counts one cache update.
func (m *Metrics) BalanceChanged() {
	if m == nil {
		return
	}
	m.BalanceChanges.Inc()
}

// PollCycle counts one finished polling cycle.
func (m *Metrics) PollCycle() {
	if m == nil {
		return
	}
	m.PollCycles.Inc()
}

// PollSkip counts one skipped tick.
func (m *Metrics) PollSkip() {
	if m == nil {
		return
	}
	m.PollSkipped.Inc()
}

// TransferOutcome records a transfer's outcome and duration in seconds.
func (m *Metrics) TransferOutcome(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(outcome).Inc()
	m.TransferDuration.Observe(seconds)
}

// LedgerRetry counts one retried ledger write.
func (m *Metrics) LedgerRetry() {
	if m == nil {
		return
	}
	m.LedgerRetries.Inc()
}

// SetPending sets the number of journal entries awaiting reconciliation.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingEntries.Set(float64(n))
}
