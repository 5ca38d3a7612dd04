// Package metrics defines the Prometheus series exported by the
// controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/neuroplc/spine/internal/protocol"
)

// Metrics holds every Prometheus series the controller exposes.
type Metrics struct {
	CyclesExecuted        prometheus.Counter
	CyclesMissed          prometheus.Counter
	CycleJitter           prometheus.Histogram
	SafetyRejections      *prometheus.CounterVec
	AgentTimeouts         prometheus.Counter
	RecommendationExpired prometheus.Counter
	RecommendationOutOfOrder prometheus.Counter
	AuthFailures          prometheus.Counter
	AuthMissing           prometheus.Counter

	MotorSpeedRPM  prometheus.Gauge
	MotorTempC     prometheus.Gauge
	PressureBar    prometheus.Gauge
	AgentTargetRPM prometheus.Gauge
	AgentConfidence prometheus.Gauge

	BridgeConnected prometheus.Gauge
	SafetyState     prometheus.Gauge
}

// New constructs and registers all series against prometheus's default
// registerer.
func New() *Metrics {
	return &Metrics{
		CyclesExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spine_cycles_executed_total",
			Help: "Total control cycles executed.",
		}),
		CyclesMissed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spine_cycles_missed_total",
			Help: "Total control cycles where the deadline was already past at wakeup.",
		}),
		CycleJitter: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    protocol.TagCycleJitterUs.Metric,
			Help:    "Per-cycle scheduling jitter beyond the configured cycle time, in microseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		SafetyRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spine_safety_rejections_total",
			Help: "Total set-point rejections by the safety validator, by violation kind.",
		}, []string{"kind"}),
		AgentTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spine_agent_timeouts_total",
			Help: "Total control cycles run with no fresh agent recommendation available, counted once a first recommendation has been applied.",
		}),
		RecommendationExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spine_recommendation_expired_total",
			Help: "Total inbound recommendations rejected for exceeding their TTL.",
		}),
		RecommendationOutOfOrder: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spine_recommendation_out_of_order_total",
			Help: "Total inbound recommendations rejected for a non-monotonic sequence number.",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spine_auth_failures_total",
			Help: "Total inbound recommendations rejected for an invalid auth token.",
		}),
		AuthMissing: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spine_auth_missing_total",
			Help: "Total inbound recommendations rejected for a missing auth token.",
		}),
		MotorSpeedRPM: promauto.NewGauge(prometheus.GaugeOpts{
			Name: protocol.TagMotorSpeedRPM.Metric,
			Help: "Last observed motor speed, in RPM.",
		}),
		MotorTempC: promauto.NewGauge(prometheus.GaugeOpts{
			Name: protocol.TagMotorTempC.Metric,
			Help: "Last observed motor temperature, in Celsius.",
		}),
		PressureBar: promauto.NewGauge(prometheus.GaugeOpts{
			Name: protocol.TagPressureBar.Metric,
			Help: "Last observed system pressure, in bar.",
		}),
		AgentTargetRPM: promauto.NewGauge(prometheus.GaugeOpts{
			Name: protocol.TagAgentTargetRPM.Metric,
			Help: "Last accepted agent-recommended target speed, in RPM.",
		}),
		AgentConfidence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: protocol.TagAgentConfidence.Metric,
			Help: "Confidence reported with the last accepted agent recommendation.",
		}),
		BridgeConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spine_bridge_connected",
			Help: "Whether a cortex peer is currently connected to the bridge (1) or not (0).",
		}),
		SafetyState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spine_safety_state",
			Help: "Current safety state: 0=normal, 1=degraded, 2=trip, 3=safe.",
		}),
	}
}

// ObserveSnapshot records one control-cycle snapshot's gauges.
func (m *Metrics) ObserveSnapshot(speedRPM, tempC, pressureBar float64, jitterUs uint32, safetyState int) {
	m.MotorSpeedRPM.Set(speedRPM)
	m.MotorTempC.Set(tempC)
	m.PressureBar.Set(pressureBar)
	m.CycleJitter.Observe(float64(jitterUs))
	m.SafetyState.Set(float64(safetyState))
}
