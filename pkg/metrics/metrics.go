// Package metrics exposes request and object-lifecycle counters in the
// Prometheus exposition format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter and histogram this server reports. All
// fields are safe for concurrent use, being backed by prometheus's own
// CounterVec/HistogramVec, which handle their own locking.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	BytesReceived     prometheus.Counter
	BytesSent         prometheus.Counter
	UploadsInitiated  prometheus.Counter
	UploadsCompleted  prometheus.Counter
	UploadsAborted    prometheus.Counter
}

// New constructs a Metrics set. Call Register to expose it on a registry.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "s3compat_requests_total",
			Help: "Total number of requests served, by S3 operation.",
		}, []string{"operation"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "s3compat_errors_total",
			Help: "Total number of error responses, by S3 error code.",
		}, []string{"code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "s3compat_request_duration_seconds",
			Help:    "Request handling duration, by S3 operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3compat_bytes_received_total",
			Help: "Total bytes received in object and part bodies.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3compat_bytes_sent_total",
			Help: "Total bytes sent in GetObject responses.",
		}),
		UploadsInitiated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3compat_uploads_initiated_total",
			Help: "Total multipart uploads initiated.",
		}),
		UploadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3compat_uploads_completed_total",
			Help: "Total multipart uploads completed.",
		}),
		UploadsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3compat_uploads_aborted_total",
			Help: "Total multipart uploads aborted.",
		}),
	}
}

// Register registers every collector in m with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.RequestsTotal, m.ErrorsTotal, m.RequestDuration,
		m.BytesReceived, m.BytesSent,
		m.UploadsInitiated, m.UploadsCompleted, m.UploadsAborted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
