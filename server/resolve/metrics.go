package resolve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons, used as the metric label.
const (
	dropMalformed   = "malformed"
	dropStale       = "stale"
	dropSelf        = "self"
	dropBlocked     = "blocked"
	dropSuspended   = "suspended"
	dropUnknownUser = "unknown_user"
	dropLookupError = "lookup_error"
)

// Metrics counts resolution outcomes.
type Metrics struct {
	Batches   prometheus.Counter
	Sightings prometheus.Counter
	Resolved  prometheus.Counter
	Dropped   *prometheus.CounterVec
}

// NewMetrics registers the resolution metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_resolve_batches_total",
			Help: "Resolution batches processed.",
		}),
		Sightings: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_resolve_sightings_total",
			Help: "Sightings received across all batches.",
		}),
		Resolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_resolve_users_total",
			Help: "Nearby users returned to callers.",
		}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_resolve_dropped_total",
			Help: "Sightings dropped during resolution, by reason.",
		}, []string{"reason"}),
	}
}
