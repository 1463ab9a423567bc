// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the result cache and its invalidation paths.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "register_result_cache_hits_total",
		Help: "Total result cache hits across all trees",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "register_result_cache_misses_total",
		Help: "Total result cache misses across all trees",
	})

	cacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "register_result_cache_evictions_total",
		Help: "Total result cache evictions across all trees",
	})

	invalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "register_cache_invalidations_total",
		Help: "Cache invalidations by scope (path or full)",
	}, []string{"scope"})

	invalidationPathLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "register_cache_invalidation_path_length",
		Help:    "Ancestor path length of parameter-change invalidations",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	activeTrees = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "register_cache_active_trees",
		Help: "Number of trees with a live cache",
	})
)

func recordCacheHit()  { cacheHitsTotal.Inc() }
func recordCacheMiss() { cacheMissesTotal.Inc() }

func recordCacheEviction(n int64) {
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

func recordPathInvalidation(pathLen int) {
	invalidationsTotal.WithLabelValues("path").Inc()
	invalidationPathLength.Observe(float64(pathLen))
}

func recordFullInvalidation() {
	invalidationsTotal.WithLabelValues("full").Inc()
}
