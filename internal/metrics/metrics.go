// Package metrics holds the Prometheus collectors of the conference server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "conference"

var (
	RoomsCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "rooms",
		Help:      "Rooms with at least one member.",
	})

	ParticipantsCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "participants",
		Help:      "Room memberships across all rooms.",
	})

	JoinsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "joins_rejected_total",
		Help:      "Join requests rejected, by reason.",
	}, []string{"reason"})

	MessagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "messages_routed_total",
		Help:      "Negotiation messages routed, by delivery mode.",
	}, []string{"mode"})

	PushDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "push_dropped_total",
		Help:      "Pushes dropped because a member send queue was full.",
	})

	PeerLinkTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "peer_link_transitions_total",
		Help:      "Peer link state transitions, by target state.",
	}, []string{"state"})

	Renegotiations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "renegotiations_total",
		Help:      "Offers sent because tracks were added to a live link.",
	})

	MixerTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mixer",
		Name:      "ticks_total",
		Help:      "Composite frames produced.",
	})

	MixerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mixer",
		Name:      "tick_duration_seconds",
		Help:      "Time spent compositing one tick.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05},
	})

	MixerAudioDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mixer",
		Name:      "audio_dropped_total",
		Help:      "Audio buffers dropped for a sample rate or channel mismatch.",
	})
)

func init() {
	prometheus.MustRegister(
		RoomsCurrent,
		ParticipantsCurrent,
		JoinsRejected,
		MessagesRouted,
		PushDropped,
		PeerLinkTransitions,
		Renegotiations,
		MixerTicks,
		MixerTickDuration,
		MixerAudioDropped,
	)
}
