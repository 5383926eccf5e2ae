// README: Prometheus collectors for the dispatch API, registered on a dedicated registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry served on /metrics.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// TourRequests counts requestTour outcomes: created, reused, limit_reached, no_eligible_demand, error.
	TourRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_tour_requests_total", Help: "Tour requests by outcome."},
		[]string{"outcome"},
	)
	TourRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "dispatch_tour_request_duration_seconds", Help: "End to end tour request latency.", Buckets: prometheus.DefBuckets},
		[]string{"outcome"},
	)
	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_build_duration_seconds", Help: "Greedy tour construction time.", Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1}},
	)
	StopTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_stop_transitions_total", Help: "Stop transitions by target status."},
		[]string{"status"},
	)
	ClaimConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_claim_conflicts_total", Help: "Planned demands lost to a concurrent tour."},
	)
	FeedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_feed_records_total", Help: "Feed records by ingest result."},
		[]string{"result"},
	)
)

func ObserveTourRequest(outcome string, d time.Duration) {
	TourRequests.WithLabelValues(outcome).Inc()
	TourRequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RegisterDefault registers collectors to the dispatch registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(TourRequests)
		Registry.MustRegister(TourRequestDuration)
		Registry.MustRegister(BuildDuration)
		Registry.MustRegister(StopTransitions)
		Registry.MustRegister(ClaimConflicts)
		Registry.MustRegister(FeedRecords)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
