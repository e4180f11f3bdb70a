package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route"},
	)

	// Messaging
	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_messages_appended_total",
			Help: "Messages appended to team logs",
		},
	)

	AppendDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_append_denied_total",
			Help: "Append attempts rejected because the author is not an active team member",
		},
	)

	MentionsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_mentions_resolved_total",
			Help: "Mention recipients resolved against team rosters",
		},
	)

	NotificationCreateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_notification_create_failures_total",
			Help: "Mention notifications that could not be stored",
		},
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_push_deliveries_total",
			Help: "Web push deliveries by result",
		},
		[]string{"result"}, // "ok", "gone", "error"
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_event_publish_errors_total",
			Help: "Domain events that failed to publish",
		},
	)

	// Audio
	Cues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_audio_cues_total",
			Help: "Audio cue requests by outcome",
		},
		[]string{"kind", "outcome"}, // outcome: played, scheduled, coalesced, suppressed
	)

	// Realtime
	WSActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamchat_ws_active_connections",
			Help: "Active websocket connections",
		},
	)

	WSEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_ws_events_total",
			Help: "Websocket events by type",
		},
		[]string{"event"},
	)
)

// Middleware считает запросы по шаблону маршрута chi.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack нужен для WebSocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		w.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
