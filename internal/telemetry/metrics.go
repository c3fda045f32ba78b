package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Flood dissemination ----
	RecordsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Name:      "records_sent_total",
			Help:      "Flood records handed to the link, by kind (burst or forward) and link outcome.",
		},
		[]string{"kind", "result"},
	)

	RecordsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Name:      "records_received_total",
			Help:      "Flood records received, by verdict.",
		},
		[]string{"verdict"},
	)

	BeaconsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Name:      "beacons_received_total",
			Help:      "Routing beacons inspected for fast repair, by verdict.",
		},
		[]string{"verdict"},
	)

	ForwardsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Name:      "forwards_scheduled_total",
			Help:      "Jittered forwards scheduled, by trigger (data or beacon).",
		},
		[]string{"trigger"},
	)

	BufferExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Name:      "buffer_exhausted_total",
			Help:      "Packet buffer allocations that failed, by call site.",
		},
		[]string{"site"},
	)

	ForwardJitter = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lightmesh",
			Name:      "forward_jitter_seconds",
			Help:      "Random delay applied before a forward.",
			Buckets:   prometheus.LinearBuckets(0.008, 0.008, 8),
		},
	)

	LocalSeq = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lightmesh",
			Name:      "local_seqnum",
			Help:      "Latest flood sequence number known to this node.",
		},
	)

	LocalState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lightmesh",
			Name:      "local_state",
			Help:      "Latest light state known to this node (1=lit).",
		},
	)

	SinkUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Name:      "sink_updates_total",
			Help:      "Indicator updates performed by the sink.",
		},
	)

	// ---- HTTP ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightmesh",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lightmesh",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lightmesh",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "lightmesh",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RecordsSent, RecordsReceived, BeaconsReceived, ForwardsScheduled,
		BufferExhausted, ForwardJitter, LocalSeq, LocalState, SinkUpdates,
		RequestsTotal, RequestDuration, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
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
//
//	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
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
