package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendguard_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spendguard_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spendguard_http_in_flight",
		Help: "In-flight HTTP requests",
	})

	AccountRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendguard_account_runs_total",
			Help: "Account runs by result",
		}, []string{"result"},
	)
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spendguard_run_duration_seconds",
		Help:    "Duration of a full run over all users",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendguard_decisions_total",
			Help: "Policy decisions by resulting state",
		}, []string{"state"},
	)
	Actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendguard_actions_total",
			Help: "Status changes by action and result",
		}, []string{"action", "result"},
	)
	Digests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendguard_digests_total",
			Help: "Digest dispatches by result",
		}, []string{"result"},
	)
	Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendguard_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight,
		AccountRuns, RunDuration, Decisions, Actions, Digests, Errors)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
