package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prep_agent_cache_hits_total",
			Help: "Total research cache hits",
		},
		[]string{"category"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prep_agent_cache_misses_total",
			Help: "Total research cache misses",
		},
		[]string{"category"},
	)

	CacheSavings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prep_agent_cache_savings_usd",
			Help: "Estimated upstream cost avoided by cache hits",
		},
	)

	UpstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prep_agent_upstream_calls_total",
			Help: "Upstream research calls by category and outcome",
		},
		[]string{"category", "status"},
	)

	UpstreamCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prep_agent_upstream_cost_usd",
			Help: "Estimated cost of upstream research calls",
		},
	)

	ResearchIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prep_agent_research_iterations",
			Help:    "Reflection loop iterations per session",
			Buckets: []float64{0, 1, 2, 3, 4},
		},
	)

	QualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prep_agent_quality_score",
			Help:    "Final research quality scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prep_agent_confidence_score",
			Help:    "Final research confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	SessionsExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prep_agent_sessions_exhausted_total",
			Help: "Research sessions that gave up below the quality threshold",
		},
	)

	InterviewsDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prep_agent_interviews_deduplicated_total",
			Help: "Intake records matched to an existing interview",
		},
	)
)

func Init() {
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheSavings)
	prometheus.MustRegister(UpstreamCalls)
	prometheus.MustRegister(UpstreamCost)
	prometheus.MustRegister(ResearchIterations)
	prometheus.MustRegister(QualityScore)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(SessionsExhausted)
	prometheus.MustRegister(InterviewsDeduplicated)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
