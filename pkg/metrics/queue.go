package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Queue job outcomes.
const (
	QueueResultSucceeded    = "succeeded"
	QueueResultRetried      = "retried"
	QueueResultDeadLettered = "dead_lettered"
	QueueResultDuplicate    = "duplicate"

	EnqueueResultCreated   = "created"
	EnqueueResultDuplicate = "duplicate"
	EnqueueResultError     = "error"
)

// QueueMetrics tracks the fulfillment job queue.
type QueueMetrics struct {
	claimed   prometheus.Counter
	completed *prometheus.CounterVec
	enqueued  *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewQueueMetrics registers queue metrics on reg. A nil registerer yields a no-op recorder.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	claimed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fulfillment_jobs_claimed_total",
		Help:      "Fulfillment jobs claimed by a worker.",
	})
	completed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fulfillment_jobs_completed_total",
		Help:      "Fulfillment job attempts by outcome.",
	}, []string{"result"})
	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fulfillment_jobs_enqueued_total",
		Help:      "Enqueue calls by outcome.",
	}, []string{"result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fulfillment_job_duration_seconds",
		Help:      "Time spent executing one fulfillment attempt.",
		Buckets:   prometheus.DefBuckets,
	})
	reg.MustRegister(claimed, completed, enqueued, duration)
	return &QueueMetrics{
		claimed:   claimed,
		completed: completed,
		enqueued:  enqueued,
		duration:  duration,
	}
}

func (q *QueueMetrics) IncClaimed() {
	if q == nil || q.claimed == nil {
		return
	}
	q.claimed.Inc()
}

// ObserveAttempt records the outcome and duration of one execution.
func (q *QueueMetrics) ObserveAttempt(result string, elapsed time.Duration) {
	if q == nil || q.completed == nil {
		return
	}
	q.completed.WithLabelValues(normalizeLabel(result)).Inc()
	q.duration.Observe(elapsed.Seconds())
}

func (q *QueueMetrics) IncEnqueue(result string) {
	if q == nil || q.enqueued == nil {
		return
	}
	q.enqueued.WithLabelValues(normalizeLabel(result)).Inc()
}
