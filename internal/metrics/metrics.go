// Package metrics exposes Prometheus metrics for the egress pipeline and
// adapts them to the stream accounting callbacks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/egress/media"
)

var (
	bytesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "egress",
		Name:      "bytes_out_total",
		Help:      "Bytes fanned out to push sessions, payload length times session count",
	}, []string{"stream", "media"})

	sessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "egress",
		Name:      "sessions",
		Help:      "Currently attached push sessions per stream",
	}, []string{"stream"})

	sessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "egress",
		Name:      "sessions_created_total",
		Help:      "Push sessions created per stream",
	}, []string{"stream"})
)

// Collector implements the stream observer callbacks on top of the
// package-level Prometheus metrics.
type Collector struct{}

// NewCollector returns the shared metrics collector. All instances feed
// the same registry; the type exists so call sites take an interface
// value instead of a package dependency.
func NewCollector() *Collector { return &Collector{} }

func (*Collector) OnBytesOut(stream string, mediaType media.MediaType, n int64) {
	bytesOut.WithLabelValues(stream, mediaType.String()).Add(float64(n))
}

func (*Collector) OnSessionCount(stream string, count int) {
	sessions.WithLabelValues(stream).Set(float64(count))
}

// SessionCreated counts a successful session attach.
func SessionCreated(stream string) {
	sessionsCreated.WithLabelValues(stream).Inc()
}

// StreamRemoved drops per-stream series once a stream is deleted so the
// scrape output doesn't accumulate dead label sets.
func StreamRemoved(stream string) {
	bytesOut.DeletePartialMatch(prometheus.Labels{"stream": stream})
	sessions.DeleteLabelValues(stream)
	sessionsCreated.DeleteLabelValues(stream)
}
