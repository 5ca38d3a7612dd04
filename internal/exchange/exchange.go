// Package exchange implements the lock-free state exchange: the only
// shared mutable object between the control context and the bridge
// context. It is built from two triple-buffered cells, one per
// direction, wrapped with a freshness (TTL) contract on reads of the
// agent recommendation.
package exchange

import "math"

// SafetyStateTag mirrors supervisor.State without importing the
// supervisor package, so ProcessSnapshot stays a leaf, copyable value
// type with no dependency on the control-loop packages that use it.
type SafetyStateTag int

const (
	TagNormal SafetyStateTag = iota
	TagDegraded
	TagTrip
	TagSafe
)

// ProcessSnapshot is the observable state of the plant for one control
// cycle. It is plain data: freely copyable, never partially visible to
// a reader.
type ProcessSnapshot struct {
	TimestampMicros uint64
	CycleCount      uint64
	MotorSpeedRPM   float64
	MotorTempC      float64
	PressureBar     float64
	CycleJitterUs   uint32
	SafetyState     SafetyStateTag
}

// Finite reports whether every field that must be finite actually is.
func (s ProcessSnapshot) Finite() bool {
	return isFinite(s.MotorSpeedRPM) && isFinite(s.MotorTempC) && isFinite(s.PressureBar)
}

// AgentRecommendation is a candidate set-point from the cortex.
type AgentRecommendation struct {
	TimestampMicros uint64 // ingestion time; zero means "never written"
	TargetSpeedRPM  *float64
	Confidence      float32
	ReasoningHash   [32]byte
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// StateExchange wraps the two triple-buffered cells and the freshness
// threshold for recommendations.
type StateExchange struct {
	snapshots       *tripleBuffer[ProcessSnapshot]
	recommendations *tripleBuffer[AgentRecommendation]
	maxAgeMicros    uint64
}

// New creates a StateExchange whose recommendations are considered
// stale once they are older than maxAgeMicros.
func New(maxAgeMicros uint64) *StateExchange {
	return &StateExchange{
		snapshots:       newTripleBuffer[ProcessSnapshot](),
		recommendations: newTripleBuffer[AgentRecommendation](),
		maxAgeMicros:    maxAgeMicros,
	}
}

// PublishState is called by the control thread every cycle.
func (e *StateExchange) PublishState(s ProcessSnapshot) {
	e.snapshots.write(s)
}

// ReadState is called by the bridge thread to pull the latest snapshot.
func (e *StateExchange) ReadState() ProcessSnapshot {
	return e.snapshots.read()
}

// SubmitRecommendation is called by the bridge thread after a
// recommendation passes the acceptance pipeline.
func (e *StateExchange) SubmitRecommendation(r AgentRecommendation) {
	e.recommendations.write(r)
}

// GetRecommendation is called by the control thread. It returns nil if
// no recommendation has ever been written, or if the most recent one has
// aged beyond the freshness window; otherwise it returns a copy of the
// latest recommendation.
func (e *StateExchange) GetRecommendation(nowMicros uint64) *AgentRecommendation {
	rec := e.recommendations.read()
	if rec.TimestampMicros == 0 {
		return nil
	}
	var age uint64
	if nowMicros > rec.TimestampMicros {
		age = nowMicros - rec.TimestampMicros
	}
	if age > e.maxAgeMicros {
		return nil
	}
	return &rec
}
