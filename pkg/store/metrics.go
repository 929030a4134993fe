package store

import (
	"hearth/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are package-level so test code can open any number of store
// instances without duplicate registration.
var writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hearth_store_writes_total",
	Help: "Entity cache writes by kind and operation.",
}, []string{"kind", "op"})

func recordWrite(kind models.Kind, op string) {
	writesTotal.WithLabelValues(string(kind), op).Inc()
}
