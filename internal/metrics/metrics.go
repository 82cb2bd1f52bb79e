package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     prometheus.CounterVec
	HTTPRequestDuration   prometheus.HistogramVec
	HTTPActiveConnections prometheus.GaugeVec

	// Scrape metrics
	ScrapesTotal          prometheus.CounterVec
	ScrapeDuration        prometheus.HistogramVec
	ReviewsScrapedTotal   prometheus.CounterVec
	ScrapeThrottledTotal  prometheus.CounterVec
	StorefrontErrorsTotal prometheus.CounterVec

	// Analysis metrics
	AnalysesTotal    prometheus.CounterVec
	AnalysisDuration prometheus.HistogramVec
	LLMTokensTotal   prometheus.CounterVec

	// Task queue metrics
	TasksQueued   prometheus.GaugeVec
	TaskFailures  prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   prometheus.CounterVec
	CacheMissesTotal prometheus.CounterVec

	// Rate limiting metrics
	RateLimitExceededTotal prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			HTTPRequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"method", "path", "status"},
			),
			HTTPActiveConnections: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "http_active_connections",
					Help: "Number of in-flight HTTP requests",
				},
				[]string{"method", "path"},
			),
			ScrapesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "storefront_scrapes_total",
					Help: "Total review scrape operations by platform and outcome",
				},
				[]string{"platform", "outcome"},
			),
			ScrapeDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "storefront_scrape_duration_seconds",
					Help:    "Full scrape duration per platform",
					Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
				},
				[]string{"platform"},
			),
			ReviewsScrapedTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reviews_scraped_total",
					Help: "Reviews fetched from storefronts, post-dedup",
				},
				[]string{"platform"},
			),
			ScrapeThrottledTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "scrape_throttled_total",
					Help: "Scrapes skipped because the app was fetched recently",
				},
				[]string{"platform"},
			),
			StorefrontErrorsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "storefront_errors_total",
					Help: "Upstream storefront request failures",
				},
				[]string{"platform", "kind"},
			),
			AnalysesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "analyses_total",
					Help: "LLM analyses by outcome",
				},
				[]string{"outcome"},
			),
			AnalysisDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "analysis_duration_seconds",
					Help:    "LLM analysis round-trip duration",
					Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
				},
				[]string{"model"},
			),
			LLMTokensTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_tokens_total",
					Help: "Tokens consumed by LLM calls",
				},
				[]string{"model", "kind"},
			),
			TasksQueued: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "tasks_queued",
					Help: "Tasks waiting in the worker queue",
				},
				[]string{"type"},
			),
			TaskFailures: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "task_failures_total",
					Help: "Background tasks that ended in the failed state",
				},
				[]string{"type", "step"},
			),
			CacheHitsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_hits_total",
					Help: "Cache hits by cache name",
				},
				[]string{"cache"},
			),
			CacheMissesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_misses_total",
					Help: "Cache misses by cache name",
				},
				[]string{"cache"},
			),
			RateLimitExceededTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rate_limit_exceeded_total",
					Help: "Requests rejected by the rate limiter",
				},
				[]string{"endpoint", "method"},
			),
		}
	})
	return instance
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Initialize()
}
