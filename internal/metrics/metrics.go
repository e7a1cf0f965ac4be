package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the engine.
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OptimizeRequests counts optimization runs by outcome
	OptimizeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_requests_total", Help: "Route optimization runs by outcome."},
		[]string{"outcome"},
	)
	// Reoptimizations counts committed plan replacements
	Reoptimizations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "route_reoptimizations_total", Help: "Route plans replaced after deviation or new stops."},
	)
	// DeviationsDetected counts monitor transitions to DeviationDetected
	DeviationsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "route_deviations_detected_total", Help: "Monitoring updates that crossed a deviation threshold."},
	)
	// CollaboratorFallbacks counts degraded external calls by collaborator
	CollaboratorFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "collaborator_fallbacks_total", Help: "External collaborator calls recovered via local fallback."},
		[]string{"collaborator"},
	)
	// SequencerPolicy counts which sequencing policy produced the ordering
	SequencerPolicy = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sequencer_policy_total", Help: "Stop sequencing runs by policy actually used."},
		[]string{"policy"},
	)
	// PathfinderIterations tracks A* exploration effort
	PathfinderIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "pathfinder_iterations", Help: "A* iterations per search.", Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000}},
	)
	// CacheHits counts location cache lookups by index and outcome
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "location_cache_lookups_total", Help: "Location cache lookups by index and outcome."},
		[]string{"index", "outcome"},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OptimizeRequests)
		Registry.MustRegister(Reoptimizations)
		Registry.MustRegister(DeviationsDetected)
		Registry.MustRegister(CollaboratorFallbacks)
		Registry.MustRegister(SequencerPolicy)
		Registry.MustRegister(PathfinderIterations)
		Registry.MustRegister(CacheHits)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
