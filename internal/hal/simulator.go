package hal

import "math"

// SimulatedMotor is an in-process first-order motor model: speed lags
// the commanded target exponentially, heat generation is quadratic in
// shaft speed, and pressure is proportional to speed squared.
type SimulatedMotor struct {
	speedRPM    float64
	temperature float64
	pressure    float64

	inertia        float64
	frictionCoeff  float64
	thermalMass    float64
	heatGeneration float64
	coolingRate    float64
	ambientTemp    float64

	targetSpeed float64
	stats       CycleStats
}

// NewSimulatedMotor returns a motor at rest, at ambient temperature.
func NewSimulatedMotor() *SimulatedMotor {
	return &SimulatedMotor{
		temperature:    25.0,
		pressure:       1.0,
		inertia:        0.5,
		frictionCoeff:  0.01,
		thermalMass:    500.0,
		heatGeneration: 0.001,
		coolingRate:    10.0,
		ambientTemp:    25.0,
	}
}

func (m *SimulatedMotor) Step(dtSeconds float64) {
	speedError := m.targetSpeed - m.speedRPM
	timeConstant := m.inertia / m.frictionCoeff
	m.speedRPM += speedError * (1 - math.Exp(-dtSeconds/timeConstant))

	speedRadS := m.speedRPM * math.Pi / 30.0
	heatIn := m.heatGeneration * speedRadS * speedRadS
	heatOut := m.coolingRate * (m.temperature - m.ambientTemp)
	deltaTemp := (heatIn - heatOut) * dtSeconds / m.thermalMass
	m.temperature += deltaTemp

	m.pressure = 1.0 + 0.0001*m.speedRPM*m.speedRPM

	cycleMicros := uint64(dtSeconds * 1_000_000)
	m.stats.LastCycleMicros = cycleMicros
	if cycleMicros > m.stats.MaxCycleMicros {
		m.stats.MaxCycleMicros = cycleMicros
	}
}

func (m *SimulatedMotor) ReadSpeed() float64       { return m.speedRPM }
func (m *SimulatedMotor) ReadTemperature() float64 { return m.temperature }
func (m *SimulatedMotor) ReadPressure() float64    { return m.pressure }

func (m *SimulatedMotor) WriteSpeed(rpm float64) {
	if rpm < 0 {
		rpm = 0
	}
	m.targetSpeed = rpm
}

func (m *SimulatedMotor) CycleStats() CycleStats { return m.stats }

func (m *SimulatedMotor) IsHealthy() bool {
	return !math.IsNaN(m.temperature) && !math.IsInf(m.temperature, 0) &&
		m.temperature < 120.0 && m.speedRPM >= 0
}
