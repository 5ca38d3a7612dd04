// Package safety implements the set-point validator: the fixed, short
// list of checks that maps a proposed target speed and sensor vector to
// either a validated set-point or a typed violation. This is the safety
// kernel; its check list is deliberately exhaustible by inspection.
// Any additional check belongs here, not layered on top.
package safety

import "math"

// Limits is immutable configuration for the validator, set once at
// startup.
type Limits struct {
	MaxSpeedRPM     float64
	MinSpeedRPM     float64
	MaxRateOfChange float64
	MaxTempC        float64
}

// ViolationKind enumerates the closed set of ways a set-point can fail
// validation. Every member of the set forces a Trip; there are no
// partially-recoverable violations.
type ViolationKind int

const (
	NonFiniteSetpoint ViolationKind = iota
	NonFiniteSensor
	ExceedsMaxSpeed
	BelowMinSpeed
	RateOfChangeTooHigh
	TemperatureInterlock
)

func (k ViolationKind) String() string {
	switch k {
	case NonFiniteSetpoint:
		return "NonFiniteSetpoint"
	case NonFiniteSensor:
		return "NonFiniteSensor"
	case ExceedsMaxSpeed:
		return "ExceedsMaxSpeed"
	case BelowMinSpeed:
		return "BelowMinSpeed"
	case RateOfChangeTooHigh:
		return "RateOfChangeTooHigh"
	case TemperatureInterlock:
		return "TemperatureInterlock"
	default:
		return "Unknown"
	}
}

// Violation carries the offending value and the limit it exceeded, so
// audit consumers can diagnose a rejection without re-running the
// validator.
type Violation struct {
	Kind      ViolationKind
	Requested float64
	Limit     float64
}

func (v Violation) Error() string {
	return v.Kind.String()
}

// Unvalidated is a candidate set-point that has not yet passed the
// validator. Validated is the distinct type the validator alone can
// construct; only a Validated set-point may reach the actuator. The
// unexported Validated constructor enforces this at the type level.
type Unvalidated struct {
	Value float64
}

// NewSetpoint wraps a raw candidate value for validation.
func NewSetpoint(value float64) Unvalidated {
	return Unvalidated{Value: value}
}

// Validated is only constructible from inside this package, by
// Unvalidated.Validate succeeding.
type Validated struct {
	value float64
}

// Value returns the validated set-point.
func (v Validated) Value() float64 { return v.value }

// Validate runs the fixed check order:
//  1. target finite
//  2. sensors finite
//  3. target <= max speed
//  4. target >= min speed
//  5. |target - current speed| <= max rate of change
//  6. current temperature <= max temp
//
// The order only determines which violation is reported; every
// non-conforming input still produces a rejection.
func (u Unvalidated) Validate(limits Limits, currentSpeed, currentTemp float64) (Validated, *Violation) {
	if !isFinite(u.Value) {
		return Validated{}, &Violation{Kind: NonFiniteSetpoint, Requested: u.Value}
	}
	if !isFinite(currentSpeed) || !isFinite(currentTemp) {
		return Validated{}, &Violation{Kind: NonFiniteSensor, Requested: u.Value}
	}
	if u.Value > limits.MaxSpeedRPM {
		return Validated{}, &Violation{Kind: ExceedsMaxSpeed, Requested: u.Value, Limit: limits.MaxSpeedRPM}
	}
	if u.Value < limits.MinSpeedRPM {
		return Validated{}, &Violation{Kind: BelowMinSpeed, Requested: u.Value, Limit: limits.MinSpeedRPM}
	}
	delta := math.Abs(u.Value - currentSpeed)
	if delta > limits.MaxRateOfChange {
		return Validated{}, &Violation{Kind: RateOfChangeTooHigh, Requested: delta, Limit: limits.MaxRateOfChange}
	}
	if currentTemp > limits.MaxTempC {
		return Validated{}, &Violation{Kind: TemperatureInterlock, Requested: currentTemp, Limit: limits.MaxTempC}
	}
	return Validated{value: u.Value}, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
