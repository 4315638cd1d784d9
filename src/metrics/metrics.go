// Package metrics defines the Prometheus collectors and the operational HTTP
// server exposing them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fingpt"

var (
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telegram",
			Name:      "updates_total",
			Help:      "Telegram updates received, by handler.",
		},
		[]string{"handler"},
	)

	HandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Handler failures answered with an apology, by handler and error kind.",
		},
		[]string{"handler", "kind"},
	)

	RelayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "duration_seconds",
			Help:      "Time spent relaying one message, by outcome.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	AttachmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attachments_total",
			Help:      "Files downloaded from Telegram, by handler.",
		},
		[]string{"handler"},
	)
)

var gaugeOnce sync.Once

// RegisterConversationGauge exposes the number of live conversations. Only
// the first call registers.
func RegisterConversationGauge(fn func() int) {
	gaugeOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "active",
			Help:      "Conversations currently held in memory.",
		}, func() float64 { return float64(fn()) })
	})
}
