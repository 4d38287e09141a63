package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Исходы диспетчеризации гостевой ссылки
const (
	OutcomeServed        = "served"
	OutcomeExpired       = "expired"
	OutcomeExhausted     = "exhausted"
	OutcomeInvalidMethod = "invalid_method"
	OutcomeNotFound      = "not_found"
	OutcomeUnresolved    = "unresolved"
	OutcomeConflict      = "conflict"
	OutcomeError         = "error"
)

var (
	registerOnce sync.Once

	linksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guest_urls",
			Subsystem: "links",
			Name:      "created_total",
			Help:      "Guest links created, by whether a usage cap or expiry was set.",
		},
		[]string{"limited"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guest_urls",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Guest link dispatches by outcome.",
		},
		[]string{"outcome"},
	)
	usageDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guest_urls",
			Subsystem: "usage",
			Name:      "dropped_total",
			Help:      "Usage events lost because the recorder buffer was full or every write attempt failed.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(linksCreated, dispatches, usageDropped)
	})
}

func RecordLinkCreated(limited bool) {
	RegisterMetrics()
	label := "false"
	if limited {
		label = "true"
	}
	linksCreated.WithLabelValues(label).Inc()
}

func RecordDispatch(outcome string) {
	RegisterMetrics()
	dispatches.WithLabelValues(outcome).Inc()
}

func RecordUsageDropped() {
	RegisterMetrics()
	usageDropped.Inc()
}

// Handler отдаёт метрики в формате Prometheus
func Handler() gin.HandlerFunc {
	RegisterMetrics()
	return gin.WrapH(promhttp.Handler())
}
