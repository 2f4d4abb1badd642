// Package metrics defines Prometheus metrics for the intervention client core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervene_poll_cycles_total",
			Help: "Notification poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	PushEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervene_push_events_total",
			Help: "Inbound notifications-channel events by type",
		},
		[]string{"type"},
	)

	ChatFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervene_chat_frames_total",
			Help: "Inbound chat-channel frames by type",
		},
		[]string{"type"},
	)

	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervene_reconnects_total",
			Help: "Socket reconnect attempts by channel kind",
		},
		[]string{"channel"},
	)

	LiveNotifications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intervene_live_notifications",
			Help: "Current unread notification count",
		},
	)

	OpenChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intervene_open_channels",
			Help: "Currently open socket channels",
		},
	)
)

// Register registers all collectors with the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		PollCycles,
		PushEvents,
		ChatFrames,
		Reconnects,
		LiveNotifications,
		OpenChannels,
	)
}
