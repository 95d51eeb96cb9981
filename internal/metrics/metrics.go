// Package metrics provides Prometheus instrumentation for the chat client:
// frame throughput per direction, connection state transitions and toast
// activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesTotal counts websocket frames, labeled by type: "received",
	// "sent" or "dropped" (malformed inbound frames).
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groupchat_frames_total",
		Help: "Total number of chat frames processed",
	}, []string{"type"}) // type = "received", "sent", "dropped"

	// ConnectionTransitions counts session state transitions, labeled by the
	// state entered.
	ConnectionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groupchat_connection_transitions_total",
		Help: "Chat session state transitions by entered state",
	}, []string{"state"})

	// OpenSessions tracks the number of sessions currently in the Open state.
	OpenSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groupchat_open_sessions",
		Help: "Current number of open chat sessions",
	})

	// ToastsShown counts toast records created open.
	ToastsShown = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_toasts_shown_total",
		Help: "Total number of unread toasts shown",
	})

	// RoomListUpdates counts room lists received, labeled by source:
	// "poll" or "push".
	RoomListUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groupchat_room_list_updates_total",
		Help: "Room lists received from the backend",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(
		FramesTotal,
		ConnectionTransitions,
		OpenSessions,
		ToastsShown,
		RoomListUpdates,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
