package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла обработка act() (включая провайдера)
	ActDuration *prometheus.HistogramVec

	// Traffic: общее кол-во попыток действий
	ActionsTotal *prometheus.CounterVec

	// Errors: классификация отказов на гейтах
	GateRejections *prometheus.CounterVec

	// HITL: тикеты в ожидании решения
	PendingTickets prometheus.Gauge

	// Saturation: состояние Circuit Breaker провайдеров (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера экспорта (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без реестра метрики летят в локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ActDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandbox_act_duration_seconds",
			Help:    "Histogram of act() latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind", "outcome"}),

		ActionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_actions_total",
			Help: "Total number of action attempts.",
		}, []string{"kind", "scope"}),

		GateRejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_gate_rejections_total",
			Help: "Total number of gate rejections by type.",
		}, []string{"type"}), // типы: policy, rate_limit, budget, no_capability

		PendingTickets: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_pending_tickets",
			Help: "Current number of HITL tickets awaiting decision.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "sandbox_circuit_breaker_state",
			Help: "Current state of the provider circuit breaker (0=closed, 1=open).",
		}, []string{"provider"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_audit_buffer_utilization",
			Help: "Current number of entries in the audit export buffer.",
		}),
	}
}
