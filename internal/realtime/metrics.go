package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	// eventsPublished counts hub publishes by event type.
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Events published to the hub.",
		},
		[]string{"type"},
	)

	// eventsDropped counts per-subscriber deliveries skipped because the
	// subscriber queue was full.
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Events dropped for slow subscribers.",
		},
		[]string{"type"},
	)

	// privateSends counts message copies sent to offline members' private channels.
	privateSends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_private_sends_total",
			Help: "Messages copied to private channels of offline members.",
		},
	)

	// typingThrottled counts typing events suppressed by the per-user throttle.
	typingThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_typing_throttled_total",
			Help: "Typing events suppressed by the throttle.",
		},
	)

	// onlineUsers gauges the size of the presence registry.
	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_online_users",
			Help: "Users currently holding a live connection.",
		},
	)

	// mirrorDropped counts events not mirrored because the mirror queue was full.
	mirrorDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_mirror_dropped_total",
			Help: "Events dropped because the mirror queue was full.",
		},
	)

	// mirrorErrors counts failed publishes to the external mirror.
	mirrorErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_mirror_errors_total",
			Help: "Failed event mirror publishes.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsPublished, eventsDropped, privateSends, typingThrottled, onlineUsers, mirrorDropped, mirrorErrors)
}
