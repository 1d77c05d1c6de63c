package controller

import (
	"github.com/prometheus/client_golang/prometheus"

	"vrnode/pkg/models"
)

type metrics struct {
	state    *prometheus.GaugeVec
	restarts *prometheus.CounterVec
	bringUp  *prometheus.GaugeVec
	spins    *prometheus.GaugeVec
	health   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vrnode_instance_state",
			Help: "Lifecycle state of an emulator instance (0 created to 9 stopped)",
		}, []string{"instance"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrnode_instance_restarts_total",
			Help: "Emulator restarts per instance and cause",
		}, []string{"instance", "reason"}),
		bringUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vrnode_bringup_duration_seconds",
			Help: "Time from spawn to ready of the last successful bring-up",
		}, []string{"instance"}),
		spins: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vrnode_bringup_spins",
			Help: "Spin counter when the last bring-up ended",
		}, []string{"instance"}),
		health: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vrnode_health_exit_code",
			Help: "Exit code of the published health record",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.state, m.restarts, m.bringUp, m.spins, m.health)
	}

	return m
}

func (m *metrics) setState(instance string, s models.InstanceState) {
	m.state.WithLabelValues(instance).Set(float64(s.Index()))
}
