package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/grimoire/internal/integrity"
	"github.com/roach88/grimoire/internal/job"
)

// Metrics are the server's Prometheus collectors.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	jobs     *prometheus.CounterVec
	findings *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grimoire_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grimoire_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9), // 1ms to ~65s
		}, []string{"route"}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grimoire_jobs_total",
			Help: "Jobs run through the API by kind and outcome",
		}, []string{"kind", "outcome"}),
		findings: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grimoire_integrity_findings",
			Help: "Findings of the most recent integrity scan by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) job(kind job.Kind, err error) {
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	m.jobs.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) scan(r *integrity.Report) {
	m.findings.WithLabelValues(string(integrity.KindOrphan)).Set(float64(len(r.Orphans)))
	m.findings.WithLabelValues(string(integrity.KindUnlinked)).Set(float64(len(r.Unlinked)))
	m.findings.WithLabelValues(string(integrity.KindBrokenLink)).Set(float64(len(r.BrokenLinks)))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// middleware counts and times requests by route template.
func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
