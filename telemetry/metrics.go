// Package telemetry exposes the node's Prometheus metrics.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mbocsi/botanynet/client"
	"github.com/mbocsi/botanynet/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "botanynet"

var (
	Registry = prometheus.NewRegistry()

	State = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_state",
			Help:      "Connectivity state of the node (1 for the current state).",
		},
		[]string{"state"},
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State machine transitions.",
		},
		[]string{"from", "to"},
	)

	ConnectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed broker connects by result code.",
		},
		[]string{"code"},
	)

	ChirpsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chirps_sent_total",
			Help:      "Chirps handed to the transport.",
		},
		[]string{"topic"},
	)

	ChirpsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chirps_dropped_total",
			Help:      "Chirps that were not sent, by reason.",
		},
		[]string{"topic", "reason"},
	)

	ChirpBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chirp_bytes",
			Help:      "Size of sent chirp documents.",
			Buckets:   prometheus.LinearBuckets(64, 64, 6),
		},
	)

	SensorReading = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_reading",
			Help:      "Last reading of each sensor.",
		},
		[]string{"sensor"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_requests_total",
			Help:      "Total number of console HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "console_request_duration_seconds",
			Help:      "Latency of console HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and node id).",
		},
		[]string{"version", "node"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(State, Transitions, ConnectFailures, ChirpsSent, ChirpsDropped,
		ChirpBytes, SensorReading, RequestsTotal, RequestDuration, buildInfo, uptime)
}

// MetricsHandler exposes /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string, nodeID uint16) {
	buildInfo.WithLabelValues(version, strconv.Itoa(int(nodeID))).Set(1)
}

// NodeObserver records client.Node events as metrics.
type NodeObserver struct{}

func (NodeObserver) StateChanged(from, to client.State) {
	Transitions.WithLabelValues(from.String(), to.String()).Inc()
	State.WithLabelValues(from.String()).Set(0)
	State.WithLabelValues(to.String()).Set(1)
}

func (NodeObserver) ConnectFailed(code proto.ConnectCode) {
	ConnectFailures.WithLabelValues(code.String()).Inc()
}

func (NodeObserver) ChirpSent(topic string, body []byte) {
	ChirpsSent.WithLabelValues(topic).Inc()
	ChirpBytes.Observe(float64(len(body)))
}

func (NodeObserver) ChirpDropped(topic, _ string, err error) {
	ChirpsDropped.WithLabelValues(topic, DropReason(err)).Inc()
}

// DropReason names the class of a send error for metrics and the journal.
func DropReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, client.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, client.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, client.ErrEncodingOverflow):
		return "encoding_overflow"
	case errors.Is(err, client.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
