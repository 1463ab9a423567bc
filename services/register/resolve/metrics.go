// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolve

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for resolver operations.
var (
	computationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "register_resolver_computations_total",
		Help: "Simulator invocations by node kind",
	}, []string{"kind"})

	coalescedWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "register_resolver_coalesced_waits_total",
		Help: "Resolutions satisfied by another caller's in-flight computation",
	})

	staleDiscardsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "register_resolver_stale_discards_total",
		Help: "Computed results discarded because the tree generation moved",
	})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "register_resolver_duration_seconds",
		Help:    "Duration of top-level resolve calls",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

func recordComputation(kind string) { computationsTotal.WithLabelValues(kind).Inc() }

func recordCoalescedWait() { coalescedWaitsTotal.Inc() }

func recordStaleDiscard() { staleDiscardsTotal.Inc() }

func recordResolveDuration(d time.Duration) { resolveDuration.Observe(d.Seconds()) }
