// Package metrics holds the process-wide Prometheus collectors for fetches,
// extraction tiers, PDF parsing, rate limiting and the operator API. Job and
// domain outcome metrics live in progress/sinks instead.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "enricher"

type collectors struct {
	fetchPages   *prometheus.CounterVec
	fetchBytes   *prometheus.CounterVec
	tierAttempts *prometheus.CounterVec
	tierSeconds  *prometheus.HistogramVec
	pdfParses    *prometheus.CounterVec
	rateWait     *prometheus.HistogramVec
	apiRequests  *prometheus.CounterVec
	apiSeconds   *prometheus.HistogramVec
}

var (
	c    *collectors
	once sync.Once
)

// Init registers the collectors with the default registry. Repeated calls
// are no-ops; every Observe function calls it.
func Init() {
	once.Do(func() {
		c = newCollectors(prometheus.DefaultRegisterer)
	})
}

func newCollectors(reg prometheus.Registerer) *collectors {
	f := promauto.With(reg)
	return &collectors{
		fetchPages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_pages_total",
			Help:      "Pages fetched by tier and HTTP status (or \"error\").",
		}, []string{"tier", "status"}),
		fetchBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_bytes_total",
			Help:      "Body bytes fetched by tier.",
		}, []string{"tier"}),
		tierAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_attempts_total",
			Help:      "Extraction tier attempts by tier and result.",
		}, []string{"tier", "result"}),
		tierSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tier_duration_seconds",
			Help:      "Wall time spent inside each extraction tier.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
		}, []string{"tier"}),
		pdfParses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdf_parses_total",
			Help:      "PDF text extractions by the method that produced text.",
		}, []string{"method"}),
		rateWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time Tier-1 requests spent waiting on a site's token bucket.",
			Buckets:   []float64{0.05, 0.25, 1, 2, 5, 15, 30},
		}, []string{"site"}),
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Operator API requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		apiSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Operator API latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one fetched page. status is the HTTP code or "error".
func ObserveFetch(tier, status string, bytesFetched int) {
	Init()
	c.fetchPages.WithLabelValues(tier, status).Inc()
	if bytesFetched > 0 {
		c.fetchBytes.WithLabelValues(tier).Add(float64(bytesFetched))
	}
}

// ObserveTier records one tier attempt and how long it ran.
func ObserveTier(tier, result string, d time.Duration) {
	Init()
	c.tierAttempts.WithLabelValues(tier, result).Inc()
	c.tierSeconds.WithLabelValues(tier).Observe(d.Seconds())
}

// ObservePDFParse counts a PDF extraction by method.
func ObservePDFParse(method string) {
	Init()
	c.pdfParses.WithLabelValues(method).Inc()
}

// ObserveRateLimitDelay records a token bucket wait for site.
func ObserveRateLimitDelay(site string, d time.Duration) {
	Init()
	c.rateWait.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveAPIRequest records one operator API request.
func ObserveAPIRequest(method, route string, code int, d time.Duration) {
	Init()
	c.apiRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.apiSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
