// Package metrics registers the Prometheus instruments for the cast
// controller and streaming server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Session metrics
	Connects    prometheus.Counter
	Disconnects prometheus.Counter
	Commands    *prometheus.CounterVec

	// Streaming metrics
	MediaLoads        prometheus.Counter
	BytesServed       prometheus.Counter
	RangeRequests     *prometheus.CounterVec
	TranscodeStarts   prometheus.Counter
	TranscodeRestarts prometheus.Counter
	StreamStalls      prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Connects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "castbeam_session_connects_total",
			Help: "Successful receiver session connects",
		}),
		Disconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "castbeam_session_disconnects_total",
			Help: "Session teardowns, local or remote",
		}),
		Commands: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "castbeam_commands_total",
			Help: "Playback commands issued, by command and outcome",
		}, []string{"command", "outcome"}),
		MediaLoads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "castbeam_media_loads_total",
			Help: "Media items loaded on the receiver",
		}),
		BytesServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "castbeam_stream_bytes_served_total",
			Help: "Bytes served to the receiver from the streaming server",
		}),
		RangeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "castbeam_stream_range_requests_total",
			Help: "Media range requests, by response status class",
		}, []string{"status"}),
		TranscodeStarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "castbeam_transcode_starts_total",
			Help: "Transcode pipelines started",
		}),
		TranscodeRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "castbeam_transcode_restarts_total",
			Help: "Pipelines restarted for seeks or forced transcode retries",
		}),
		StreamStalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "castbeam_stream_stalls_total",
			Help: "Range requests that timed out waiting for pipeline output",
		}),
	}
}
