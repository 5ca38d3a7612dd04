// Package supervisor implements the safety supervisor: a stateful
// wrapper around the validator in internal/safety that applies the
// Normal/Degraded/Trip/Safe latching discipline.
package supervisor

import (
	"github.com/neuroplc/spine/internal/safety"
)

// State is the four-valued safety state tag. Once Trip or Safe is
// entered, only an external reset (an operator restart of the process)
// re-enters Normal.
type State int

const (
	Normal State = iota
	Degraded
	Trip
	Safe
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Degraded:
		return "degraded"
	case Trip:
		return "trip"
	case Safe:
		return "safe"
	default:
		return "unknown"
	}
}

// Supervisor owns the limits, the latched state, and the last accepted
// output. It is not safe for concurrent use; the control loop owns it
// exclusively.
type Supervisor struct {
	limits          safety.Limits
	state           State
	lastSafeSetpoint float64
}

// New creates a supervisor in the Normal state.
func New(limits safety.Limits) *Supervisor {
	return &Supervisor{limits: limits, state: Normal}
}

// State returns the current latched safety state.
func (s *Supervisor) State() State { return s.state }

// ForceSafe latches the supervisor into the terminal Safe state and
// zeroes the last safe set-point, regardless of its prior state. Used
// only by the control loop's watchdog-overrun emergency stop. There is
// no corresponding unforce.
func (s *Supervisor) ForceSafe() {
	s.state = Safe
	s.lastSafeSetpoint = 0
}

// Apply runs one supervisor invocation:
//
//  1. If latched (Trip or Safe), transition to Safe, zero the last safe
//     set-point, return (0, nil). Permanent for the lifetime of the
//     process; there is no auto-reset.
//  2. If no target was supplied, transition to Degraded and hold the
//     last safe set-point.
//  3. Otherwise validate the target; on success adopt it as the new
//     last-safe-setpoint and return to Normal immediately (a Degraded
//     supervisor does not linger after a successful validation); on
//     failure, Trip and zero the output.
func (s *Supervisor) Apply(target *float64, currentSpeed, currentTemp float64) (float64, *safety.Violation) {
	if s.state == Trip || s.state == Safe {
		s.state = Safe
		s.lastSafeSetpoint = 0
		return 0, nil
	}

	if target == nil {
		s.state = Degraded
		return s.lastSafeSetpoint, nil
	}

	candidate := safety.NewSetpoint(*target)
	validated, violation := candidate.Validate(s.limits, currentSpeed, currentTemp)
	if violation != nil {
		s.state = Trip
		s.lastSafeSetpoint = 0
		return 0, violation
	}

	s.lastSafeSetpoint = validated.Value()
	s.state = Normal
	return validated.Value(), nil
}
