package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics tracks SOS negotiation decisions and queue depth per clinic.
type DispatchMetrics struct {
	decisionsTotal *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetcare",
			Subsystem: "dispatch",
			Name:      "decisions_total",
			Help:      "SOS alert decisions (accept, decline, timeout, resolved)",
		}, []string{"decision"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vetcare",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Pending SOS alerts per clinic session, active alert included",
		}, []string{"clinic_id"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.decisionsTotal, m.queueDepth)
	return m
}

func (m *DispatchMetrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(decision).Inc()
}

func (m *DispatchMetrics) SetQueueDepth(clinicID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(clinicID).Set(float64(depth))
}

func (m *DispatchMetrics) ForgetClinic(clinicID string) {
	if m == nil {
		return
	}
	m.queueDepth.DeleteLabelValues(clinicID)
}
