package shell

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// generations counts finished generations.
	// Labels: outcome (applied, discarded)
	generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "shell",
		Name:      "generations_total",
		Help:      "Finished generations by whether their result was shown",
	}, []string{"outcome"})

	scheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "shell",
		Name:      "scheduled_total",
		Help:      "Regeneration requests received by the debouncer",
	})

	rebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "shell",
		Name:      "rebuilds_total",
		Help:      "Project rebuilds requested from the view",
	}, []string{"result"})
)
