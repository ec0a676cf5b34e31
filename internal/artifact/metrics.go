package artifact

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheLookups counts artifact cache lookups.
	// Labels: result (hit, miss)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "artifact",
		Name:      "cache_lookups_total",
		Help:      "Artifact cache lookups by result",
	}, []string{"result"})

	// parseFailures counts artifacts and source entries that could not be parsed.
	// Labels: scope (artifact, source)
	parseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "artifact",
		Name:      "parse_failures_total",
		Help:      "Artifacts and per-file ASTs that failed to parse",
	}, []string{"scope"})

	parseSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "argus",
		Subsystem: "artifact",
		Name:      "parse_seconds",
		Help:      "Time spent parsing one artifact file",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
)
