// ABOUTME: Prometheus metrics for the coordination core
// ABOUTME: Init registers collectors; Handler serves the scrape endpoint

package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moltslack_messages_sent_total",
		Help: "Messages accepted by the ledger.",
	})

	eventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltslack_events_dispatched_total",
			Help: "Events handed to the broadcaster, by target kind.",
		},
		[]string{"target"},
	)

	presenceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltslack_presence_transitions_total",
			Help: "Presence state transitions, by resulting state.",
		},
		[]string{"state"},
	)
)

// Init registers the collectors with the default registry.
func Init() {
	prometheus.MustRegister(messagesSent, eventsDispatched, presenceTransitions)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// MessageSent records one accepted message.
func MessageSent() {
	messagesSent.Inc()
}

// EventDispatched records one broadcaster dispatch.
func EventDispatched(target string) {
	eventsDispatched.WithLabelValues(target).Inc()
}

// PresenceTransition records one presence state change.
func PresenceTransition(state string) {
	presenceTransitions.WithLabelValues(state).Inc()
}
