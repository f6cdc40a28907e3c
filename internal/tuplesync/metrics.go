package tuplesync

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts synchronizer outcomes.
type Metrics struct {
	operations *prometheus.CounterVec
	warnings   *prometheus.CounterVec
	repairs    *prometheus.CounterVec
}

// NewMetrics registers the collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_tuplesync_operations_total",
			Help: "Synchronizer operations by name and result.",
		}, []string{"op", "result"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_tuplesync_warnings_total",
			Help: "Tuple mutations that failed after the relational write committed.",
		}, []string{"op"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_tuplesync_repairs_total",
			Help: "Tuples written or deleted by reconciliation.",
		}, []string{"source", "op"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.operations, m.warnings, m.repairs)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) warn(op OutboxOp) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) repaired(source string, op OutboxOp, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repairs.WithLabelValues(source, string(op)).Add(float64(n))
}
