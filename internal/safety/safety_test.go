package safety

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{MaxSpeedRPM: 3000, MinSpeedRPM: 0, MaxRateOfChange: 50, MaxTempC: 80}
}

func TestValidate_Accepts(t *testing.T) {
	sp := NewSetpoint(1050)
	validated, violation := sp.Validate(testLimits(), 1000, 40)
	require.Nil(t, violation)
	assert.Equal(t, 1050.0, validated.Value())
}

func TestValidate_NonFiniteSetpoint(t *testing.T) {
	sp := NewSetpoint(math.NaN())
	_, violation := sp.Validate(testLimits(), 1000, 40)
	require.NotNil(t, violation)
	assert.Equal(t, NonFiniteSetpoint, violation.Kind)
}

func TestValidate_NonFiniteSensor(t *testing.T) {
	sp := NewSetpoint(1000)
	_, violation := sp.Validate(testLimits(), math.Inf(1), 40)
	require.NotNil(t, violation)
	assert.Equal(t, NonFiniteSensor, violation.Kind)
}

func TestValidate_ExceedsMaxSpeed(t *testing.T) {
	sp := NewSetpoint(5000)
	_, violation := sp.Validate(testLimits(), 3000, 40)
	require.NotNil(t, violation)
	assert.Equal(t, ExceedsMaxSpeed, violation.Kind)
	assert.Equal(t, 3000.0, violation.Limit)
}

func TestValidate_BelowMinSpeed(t *testing.T) {
	sp := NewSetpoint(-10)
	_, violation := sp.Validate(testLimits(), 0, 40)
	require.NotNil(t, violation)
	assert.Equal(t, BelowMinSpeed, violation.Kind)
}

func TestValidate_RateOfChangeTooHigh(t *testing.T) {
	sp := NewSetpoint(1200)
	_, violation := sp.Validate(testLimits(), 1000, 40)
	require.NotNil(t, violation)
	assert.Equal(t, RateOfChangeTooHigh, violation.Kind)
}

func TestValidate_TemperatureInterlock(t *testing.T) {
	sp := NewSetpoint(1000)
	_, violation := sp.Validate(testLimits(), 1000, 95)
	require.NotNil(t, violation)
	assert.Equal(t, TemperatureInterlock, violation.Kind)
}

func TestValidate_CheckOrder(t *testing.T) {
	// A non-finite setpoint must be reported even when other inputs
	// would also fail, since it is checked first.
	sp := NewSetpoint(math.NaN())
	_, violation := sp.Validate(testLimits(), math.NaN(), 1000)
	require.NotNil(t, violation)
	assert.Equal(t, NonFiniteSetpoint, violation.Kind)
}

func TestViolation_ErrorInterface(t *testing.T) {
	var err error = &Violation{Kind: ExceedsMaxSpeed}
	assert.Equal(t, "ExceedsMaxSpeed", err.Error())
}
