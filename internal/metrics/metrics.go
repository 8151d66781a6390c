// Package metrics exposes pipeline counters to Prometheus. Metrics are
// owned by an instance registered at startup, not package globals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline instrumentation.
type Metrics struct {
	PullsTotal       *prometheus.CounterVec
	MessagesSent     prometheus.Counter
	MessagesSkipped  prometheus.Counter
	DownloadsTotal   *prometheus.CounterVec
	DownloadBytes    prometheus.Counter
	DownloadDuration prometheus.Histogram
}

// New creates and registers the pipeline metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PullsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_pulls_total",
			Help: "Pull cycles by mode and result",
		}, []string{"mode", "result"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_sent_total",
			Help: "Messages delivered to the sink",
		}),
		MessagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_skipped_total",
			Help: "Messages skipped by signature deduplication",
		}),
		DownloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_downloads_total",
			Help: "Attachment downloads by route and result",
		}, []string{"route", "result"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_download_bytes_total",
			Help: "Bytes written by attachment downloads",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_download_duration_seconds",
			Help:    "Per-message download duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.PullsTotal,
		m.MessagesSent,
		m.MessagesSkipped,
		m.DownloadsTotal,
		m.DownloadBytes,
		m.DownloadDuration,
	)
	return m
}

// Nop returns metrics backed by an unregistered registry, for tests and
// optional wiring.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
