package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsJoined counts new sessions admitted to a waiting line
	SessionsJoined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_sessions_joined_total",
		Help: "Total number of sessions that joined a queue",
	}, []string{"queue_id"})

	// SessionsReleased counts sessions promoted from waiting to serving
	SessionsReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_sessions_released_total",
		Help: "Total number of sessions released to serving",
	}, []string{"queue_id"})

	// SessionsCompleted counts serving sessions that finished
	SessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_sessions_completed_total",
		Help: "Total number of serving sessions completed",
	}, []string{"queue_id"})

	// SessionsDropped counts dropped sessions by reason
	SessionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_sessions_dropped_total",
		Help: "Total number of sessions dropped",
	}, []string{"queue_id", "reason"})

	// WaitingSessions tracks the current waiting line length per queue
	WaitingSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waitroom_waiting_sessions",
		Help: "Current number of waiting sessions",
	}, []string{"queue_id"})

	// ServingSessions tracks current serving occupancy per queue
	ServingSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waitroom_serving_sessions",
		Help: "Current number of serving sessions",
	}, []string{"queue_id"})

	// ReleaseBatchDuration observes how long one release batch takes
	ReleaseBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waitroom_release_batch_duration_seconds",
		Help:    "Duration of release batch runs",
		Buckets: prometheus.DefBuckets,
	})

	// ExpirySweepDuration observes how long one reaper sweep takes
	ExpirySweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waitroom_expiry_sweep_duration_seconds",
		Help:    "Duration of expiry reaper sweeps",
		Buckets: prometheus.DefBuckets,
	})

	// MergeSessionsMoved counts sessions moved between queues by merges
	MergeSessionsMoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitroom_merge_sessions_moved_total",
		Help: "Total number of sessions moved by merge operations",
	})

	// EventPublishFailures counts best-effort event publishes that failed
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitroom_event_publish_failures_total",
		Help: "Total number of failed event publishes",
	})

	// AccessPassRejections counts rejected admission passes
	AccessPassRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitroom_access_pass_rejections_total",
		Help: "Total number of rejected access passes",
	})

	// HTTPRequestDuration observes API request latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waitroom_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// Middleware records request latency per method, route, and status.
// Unmatched routes are labeled "unmatched" to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
