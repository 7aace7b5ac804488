package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// Upload outcomes, used as the "outcome" label.
const (
	outcomeOK       = "ok"
	outcomeInvalid  = "invalid"
	outcomeTooLarge = "too_large"
	outcomeError    = "error"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	Uploads        *prometheus.CounterVec
	RowsAggregated prometheus.Counter
	Fallbacks      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggregator",
			Name:      "uploads_total",
			Help:      "Uploaded files by outcome.",
		}, []string{"outcome"}),
		RowsAggregated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aggregator",
			Name:      "rows_aggregated_total",
			Help:      "Data rows folded into an aggregate.",
		}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggregator",
			Name:      "fallbacks_total",
			Help:      "Parses that dropped account detail, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.Uploads, m.RowsAggregated, m.Fallbacks)
	return m
}

func (m *Metrics) observe(result *types.Result) {
	m.Uploads.WithLabelValues(outcomeOK).Inc()
	m.RowsAggregated.Add(float64(result.Meta.TotalRows))
	if result.Meta.Fallback {
		m.Fallbacks.WithLabelValues(result.Meta.FallbackReason).Inc()
	}
}
