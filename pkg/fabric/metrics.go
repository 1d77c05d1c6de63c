package fabric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	dirRx = "rx"
	dirTx = "tx"
)

// Metrics counts traffic per endpoint.
type Metrics struct {
	bytes      *prometheus.CounterVec
	frames     *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	dropped    *prometheus.CounterVec
}

// NewMetrics registers the fabric counters with reg; a nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrnode_fabric_bytes_total",
			Help: "Bytes relayed per endpoint and direction",
		}, []string{"endpoint", "direction"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrnode_fabric_frames_total",
			Help: "Frames relayed by framed adapters per endpoint and direction",
		}, []string{"endpoint", "direction"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrnode_fabric_reconnects_total",
			Help: "Connections established to an endpoint after the first",
		}, []string{"endpoint"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrnode_fabric_dropped_bytes_total",
			Help: "Bytes lost because the destination endpoint was not connected",
		}, []string{"endpoint"}),
	}

	if reg != nil {
		reg.MustRegister(m.bytes, m.frames, m.reconnects, m.dropped)
	}

	return m
}

func (m *Metrics) rx(endpoint string, n int) {
	m.bytes.WithLabelValues(endpoint, dirRx).Add(float64(n))
}

func (m *Metrics) tx(endpoint string, n int) {
	m.bytes.WithLabelValues(endpoint, dirTx).Add(float64(n))
}

func (m *Metrics) frame(endpoint, direction string) {
	m.frames.WithLabelValues(endpoint, direction).Inc()
}

func (m *Metrics) reconnect(endpoint string) {
	m.reconnects.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) drop(endpoint string, n int) {
	m.dropped.WithLabelValues(endpoint).Add(float64(n))
}
