package protocol

// ProtocolVersion is the bridge wire-protocol version. Major must match
// exactly; minor is informational.
type ProtocolVersion struct {
	Major uint8 `json:"major"`
	Minor uint8 `json:"minor"`
}

// V1 is the currently supported protocol version.
var V1 = ProtocolVersion{Major: 1, Minor: 0}

// Supported reports whether a peer-declared version is acceptable. Only
// the major version is checked.
func (v ProtocolVersion) Supported() bool { return v.Major == 1 }

// SafetyStateWire is the string encoding of the safety state used on the
// wire, distinct from the internal supervisor.State/exchange.SafetyStateTag
// types so wire compatibility doesn't couple to internal representations.
type SafetyStateWire string

const (
	WireNormal   SafetyStateWire = "normal"
	WireDegraded SafetyStateWire = "degraded"
	WireTrip     SafetyStateWire = "trip"
	WireSafe     SafetyStateWire = "safe"
)

// HelloMsg is the bridge handshake message.
type HelloMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion ProtocolVersion `json:"protocol_version"`
	Capabilities    []string        `json:"capabilities,omitempty"`
	ClientID        *string         `json:"client_id,omitempty"`
}

// RecommendationMsg is an inbound candidate set-point from the cortex.
type RecommendationMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion ProtocolVersion `json:"protocol_version"`
	Sequence        uint64          `json:"sequence"`
	IssuedAtUnixUs  uint64          `json:"issued_at_unix_us"`
	TTLMillis       uint64          `json:"ttl_ms"`
	TargetSpeedRPM  *float64        `json:"target_speed_rpm,omitempty"`
	Confidence      float32         `json:"confidence"`
	ReasoningHash   string          `json:"reasoning_hash"`
	ClientUnixUs    *uint64         `json:"client_unix_us,omitempty"`
	AuthToken       *string         `json:"auth_token,omitempty"`
}

// StateMsg is the outbound server state frame.
type StateMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion ProtocolVersion `json:"protocol_version"`
	Sequence        uint64          `json:"sequence"`
	TimestampUs     uint64          `json:"timestamp_us"`
	CycleCount      uint64          `json:"cycle_count"`
	UnixUs          uint64          `json:"unix_us"`
	SafetyState     SafetyStateWire `json:"safety_state"`
	MotorSpeedRPM   float64         `json:"motor_speed_rpm"`
	MotorTempC      float64         `json:"motor_temp_c"`
	PressureBar     float64         `json:"pressure_bar"`
	CycleJitterUs   uint32          `json:"cycle_jitter_us"`
}

// MsgType discriminators.
const (
	MsgTypeHello          = "hello"
	MsgTypeRecommendation = "recommendation"
	MsgTypeState          = "state"
)

// MaxBinaryFrameBytes bounds a binary-framed payload; larger frames are
// fatal to the connection.
const MaxBinaryFrameBytes = 256 * 1024
