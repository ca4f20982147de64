package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the Prometheus collectors exposed by this process.
// All fields are safe for concurrent use - promauto collectors are.
type Registry struct {
	// Bid pipeline
	BidProcessingDuration *prometheus.HistogramVec
	BidsAccepted          *prometheus.CounterVec
	BidsRejected          *prometheus.CounterVec
	LockContention        prometheus.Counter
	LockWaitDuration      prometheus.Histogram
	AuctionQueueDepth     prometheus.Gauge

	// Admission Controller
	AdmissionDenied     *prometheus.CounterVec
	AdmissionsTracked   prometheus.Gauge
	AdmissionBlocksOpen prometheus.Gauge

	// Queue adapter
	QueuePublished   *prometheus.CounterVec
	QueueConsumed    *prometheus.CounterVec
	QueueDeadLettered *prometheus.CounterVec

	// System
	DBPoolConnections *prometheus.GaugeVec
	CacheHitRate      prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

const namespace = "auctionhouse"

// NewRegistry registers every collector against reg and returns the
// handle used to record observations. Pass prometheus.NewRegistry()
// in tests to avoid colliding with the global default registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		BidProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bid",
			Name:      "processing_duration_seconds",
			Help:      "Time spent running the bid acceptance algorithm end to end",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		}, []string{"result"}),

		BidsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bid",
			Name:      "accepted_total",
			Help:      "Bids accepted as the new highest bid",
		}, []string{"auction_id"}),

		BidsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bid",
			Name:      "rejected_total",
			Help:      "Bids rejected, labeled by reason",
		}, []string{"reason"}),

		LockContention: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bid",
			Name:      "lock_contention_total",
			Help:      "Times a bid found an auction's lock already held",
		}),

		LockWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bid",
			Name:      "lock_wait_duration_seconds",
			Help:      "Time spent on an attempt to acquire an auction's distributed lock",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13), // 1ms .. ~4s
		}),

		AuctionQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bid",
			Name:      "pending_work_depth",
			Help:      "Bids awaiting processing across all auctions",
		}),

		AdmissionDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "denied_total",
			Help:      "Connections or bids denied by the Admission Controller, labeled by reason",
		}, []string{"reason"}),

		AdmissionsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "tracked_connections",
			Help:      "Connections currently tracked for admission limits",
		}),

		AdmissionBlocksOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "blocks_open",
			Help:      "Identities or addresses currently blocked",
		}),

		QueuePublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "published_total",
			Help:      "Messages published, labeled by topic",
		}, []string{"topic"}),

		QueueConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "consumed_total",
			Help:      "Messages consumed and acknowledged, labeled by topic",
		}, []string{"topic"}),

		QueueDeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dead_lettered_total",
			Help:      "Messages routed to a topic's dead-letter topic, labeled by topic and reason",
		}, []string{"topic", "reason"}),

		DBPoolConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "pool_connections",
			Help:      "Connections in the Store's pool, labeled by state",
		}, []string{"state"}),

		CacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hit_rate",
			Help:      "Rolling cache hit rate observed by the Cache adapter",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP fallback requests, labeled by method, path and status class",
		}, []string{"method", "path", "status"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP fallback request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// RecordBidProcessing observes the duration of one run of the bid
// acceptance algorithm and increments the matching accepted/rejected
// counter.
func (r *Registry) RecordBidProcessing(auctionID, result string, duration time.Duration, rejectReason string) {
	r.BidProcessingDuration.WithLabelValues(result).Observe(duration.Seconds())
	switch result {
	case "accepted":
		r.BidsAccepted.WithLabelValues(auctionID).Inc()
	case "rejected":
		r.BidsRejected.WithLabelValues(rejectReason).Inc()
	}
}

// RecordLockWait records how long an attempt to acquire an auction's
// distributed lock took, and counts contention when waited is true
// (the lock was already held).
func (r *Registry) RecordLockWait(waited bool, duration time.Duration) {
	if waited {
		r.LockContention.Inc()
	}
	r.LockWaitDuration.Observe(duration.Seconds())
}

// RecordAdmissionDenied increments the denial counter for reason,
// one of "address_blocked", "identity_blocked", "address_limit",
// "identity_limit" or "bid_rate_limit".
func (r *Registry) RecordAdmissionDenied(reason string) {
	r.AdmissionDenied.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records one HTTP fallback request.
func (r *Registry) RecordHTTPRequest(method, path, statusClass string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, statusClass).Inc()
	r.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// StatusClass maps an HTTP status code to its "2xx"/"4xx"/... class.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
