package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thehowl/tersetrace/pkg/compact"
)

// Metrics tracks the traces compacted by the server.
type Metrics struct {
	registry *prometheus.Registry

	traces   *prometheus.CounterVec
	lines    *prometheus.CounterVec
	bytesIn  prometheus.Counter
	bytesOut prometheus.Counter
	rejected prometheus.Counter
}

// Sources of compacted traces, used as label values.
const (
	sourceUpload = "upload"
	sourceAPI    = "api"
)

// NewMetrics creates the metrics, registered on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		traces: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tersetrace_traces_compacted_total",
				Help: "Total number of traces compacted",
			},
			[]string{"source"},
		),
		lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tersetrace_lines_total",
				Help: "Total number of trace lines processed, by how they were handled",
			},
			[]string{"kind"},
		),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tersetrace_raw_bytes_total",
			Help: "Total size of the traces before compaction",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tersetrace_compacted_bytes_total",
			Help: "Total size of the traces after compaction",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tersetrace_uploads_rejected_total",
			Help: "Total number of uploads rejected for exceeding the usage limits",
		}),
	}
	m.registry.MustRegister(m.traces, m.lines, m.bytesIn, m.bytesOut, m.rejected)
	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(source string, st compact.Stats, rawSize, compactSize int) {
	m.traces.WithLabelValues(source).Inc()
	m.lines.WithLabelValues(compact.KindFrame.String()).Add(float64(st.Frames))
	m.lines.WithLabelValues(compact.KindWrapped.String()).Add(float64(st.Wrapped))
	m.lines.WithLabelValues(compact.KindOther.String()).Add(float64(st.Other))
	m.bytesIn.Add(float64(rawSize))
	m.bytesOut.Add(float64(compactSize))
}
