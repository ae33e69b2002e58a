package relay

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	jobsTotal       *prometheus.CounterVec
	jobDurationHist prometheus.Histogram
	queueDepthGauge prometheus.Gauge
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Relay jobs by terminal status",
		}, []string{"status"})

		jobDurationHist = promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "End-to-end latency of relay jobs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		})

		queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		})
	})
}

func observeJobDone(status Status, started time.Time) {
	ensureMetrics()
	jobsTotal.WithLabelValues(string(status)).Inc()
	jobDurationHist.Observe(time.Since(started).Seconds())
}
