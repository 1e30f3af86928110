// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics provides the Prometheus wiring consumed by the round
// executor.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of named collectors the executor updates once per
// round. All fields are safe for concurrent use (prometheus collectors are).
type Metrics struct {
	Registry prometheus.Registerer

	RoundDuration      prometheus.Histogram
	RoundsClosed       prometheus.Counter
	RoundsEmpty        prometheus.Counter
	SelectionRetries   prometheus.Counter
	SelectionFailures  prometheus.Counter
	SlashEvents        *prometheus.CounterVec
	EmittedMicroIPN    prometheus.Counter
	CumulativeSupply   prometheus.Gauge
	PendingBlocks      prometheus.Gauge
	DAGTips            prometheus.Gauge
}

// New creates and registers the full metric set against reg. Registration
// errors from duplicate registration are ignored for already-registered
// collectors so New is safe to call once per process.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registry: reg,
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dlc_round_duration_seconds",
			Help:    "Wall-clock duration of a processed round.",
			Buckets: prometheus.DefBuckets,
		}),
		RoundsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_rounds_closed_total",
			Help: "Rounds that closed with a verifier selection (non-empty rounds).",
		}),
		RoundsEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_rounds_empty_total",
			Help: "Rounds that closed empty (no rewards distributed).",
		}),
		SelectionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_selection_retries_total",
			Help: "Verifier-selection reputation-threshold retries.",
		}),
		SelectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_selection_failures_total",
			Help: "Rounds where verifier selection failed after retries.",
		}),
		SlashEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dlc_slash_events_total",
			Help: "Slashing events by offense type.",
		}, []string{"offense"}),
		EmittedMicroIPN: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_emitted_micro_ipn_total",
			Help: "Cumulative µIPN minted via DAG-Fair emission.",
		}),
		CumulativeSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlc_cumulative_supply_micro_ipn",
			Help: "Current cumulative supply in µIPN.",
		}),
		PendingBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlc_pending_blocks",
			Help: "Non-finalized blocks currently held by the DAG engine.",
		}),
		DAGTips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlc_dag_tips",
			Help: "Current DAG tip-set size.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.RoundDuration, m.RoundsClosed, m.RoundsEmpty, m.SelectionRetries,
		m.SelectionFailures, m.SlashEvents, m.EmittedMicroIPN,
		m.CumulativeSupply, m.PendingBlocks, m.DAGTips,
	} {
		_ = reg.Register(c) // duplicate registration is a no-op error we ignore
	}
	return m
}

// Noop returns a Metrics backed by a private, unregistered registry — safe
// for tests that don't care about metric output.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
