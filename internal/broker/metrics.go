package broker

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the broker's Prometheus instrumentation, registered against
// a caller-supplied registry so the HTTP surface's /metrics handler can
// expose it alongside any other collectors.
type metrics struct {
	jobsTotal     *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	activeWorkers prometheus.Gauge
	queueSize     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Total number of jobs processed, by terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall-clock duration of a job from processing to terminal status.",
			Buckets: prometheus.DefBuckets,
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Number of worker goroutines currently processing a job.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_size",
			Help: "Number of job ids currently buffered in the in-memory queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.jobsTotal, m.jobDuration, m.activeWorkers, m.queueSize)
	}
	return m
}
