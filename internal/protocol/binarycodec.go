package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary framing: a 4-byte big-endian length prefix followed by a
// protobuf-encoded payload discriminating the three wire message types.
// The payload is encoded field-by-field with protowire, the same
// low-level package generated code calls into.
const (
	fieldMsgType        = 1
	fieldVersionMajor   = 2
	fieldVersionMinor   = 3
	fieldSequence       = 4
	fieldIssuedAtUs     = 5
	fieldTTLMillis      = 6
	fieldHasTarget      = 7
	fieldTargetRPM      = 8
	fieldConfidence     = 9
	fieldReasoningHash  = 10
	fieldClientID       = 11
	fieldCapability     = 12
	fieldCycleCount     = 13
	fieldUnixUs         = 14
	fieldSafetyState    = 15
	fieldMotorSpeedRPM  = 16
	fieldMotorTempC     = 17
	fieldPressureBar    = 18
	fieldCycleJitterUs  = 19
	fieldAuthToken      = 20
	fieldClientUnixUs   = 21
	fieldHasClientUnix  = 22
)

// binaryMsgType discriminates the union on the wire.
type binaryMsgType int32

const (
	binaryHello          binaryMsgType = 0
	binaryRecommendation binaryMsgType = 1
	binaryState          binaryMsgType = 2
)

var safetyStateWireToInt = map[SafetyStateWire]int32{
	WireNormal: 0, WireDegraded: 1, WireTrip: 2, WireSafe: 3,
}
var safetyStateIntToWire = map[int32]SafetyStateWire{
	0: WireNormal, 1: WireDegraded, 2: WireTrip, 3: WireSafe,
}

// EncodeBinaryFrame writes a 4-byte length prefix followed by the
// already protobuf-encoded payload to w.
func EncodeBinaryFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxBinaryFrameBytes {
		return fmt.Errorf("payload %d bytes exceeds max frame size %d", len(payload), MaxBinaryFrameBytes)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadBinaryFrame reads one length-prefixed payload from r. Frames
// larger than MaxBinaryFrameBytes are fatal to the connection.
func ReadBinaryFrame(r io.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxBinaryFrameBytes {
		return nil, fmt.Errorf("frame length %d exceeds max frame size %d", n, MaxBinaryFrameBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// EncodeRecommendationProto encodes a RecommendationMsg payload.
func EncodeRecommendationProto(msg RecommendationMsg) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(binaryRecommendation))
	b = protowire.AppendTag(b, fieldVersionMajor, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.ProtocolVersion.Major))
	b = protowire.AppendTag(b, fieldVersionMinor, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.ProtocolVersion.Minor))
	b = protowire.AppendTag(b, fieldSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.Sequence)
	b = protowire.AppendTag(b, fieldIssuedAtUs, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.IssuedAtUnixUs)
	b = protowire.AppendTag(b, fieldTTLMillis, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.TTLMillis)
	if msg.TargetSpeedRPM != nil {
		b = protowire.AppendTag(b, fieldHasTarget, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
		b = protowire.AppendTag(b, fieldTargetRPM, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*msg.TargetSpeedRPM))
	}
	b = protowire.AppendTag(b, fieldConfidence, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(msg.Confidence))
	b = protowire.AppendTag(b, fieldReasoningHash, protowire.BytesType)
	b = protowire.AppendString(b, msg.ReasoningHash)
	if msg.ClientUnixUs != nil {
		b = protowire.AppendTag(b, fieldHasClientUnix, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
		b = protowire.AppendTag(b, fieldClientUnixUs, protowire.VarintType)
		b = protowire.AppendVarint(b, *msg.ClientUnixUs)
	}
	if msg.AuthToken != nil {
		b = protowire.AppendTag(b, fieldAuthToken, protowire.BytesType)
		b = protowire.AppendString(b, *msg.AuthToken)
	}
	return b
}

// DecodeRecommendationProto parses a binary-framed recommendation
// payload produced by EncodeRecommendationProto.
func DecodeRecommendationProto(data []byte) (RecommendationMsg, error) {
	var msg RecommendationMsg
	msg.Type = MsgTypeRecommendation
	var hasTarget, hasClientUnix bool
	var targetValue float64
	var clientUnixValue uint64

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return msg, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldMsgType, fieldVersionMajor, fieldVersionMinor, fieldSequence,
			fieldIssuedAtUs, fieldTTLMillis, fieldHasTarget, fieldHasClientUnix, fieldClientUnixUs:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case fieldVersionMajor:
				msg.ProtocolVersion.Major = uint8(v)
			case fieldVersionMinor:
				msg.ProtocolVersion.Minor = uint8(v)
			case fieldSequence:
				msg.Sequence = v
			case fieldIssuedAtUs:
				msg.IssuedAtUnixUs = v
			case fieldTTLMillis:
				msg.TTLMillis = v
			case fieldHasTarget:
				hasTarget = v == 1
			case fieldHasClientUnix:
				hasClientUnix = v == 1
			case fieldClientUnixUs:
				clientUnixValue = v
			}
		case fieldTargetRPM:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			targetValue = math.Float64frombits(v)
		case fieldConfidence:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			msg.Confidence = math.Float32frombits(v)
		case fieldReasoningHash:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			msg.ReasoningHash = string(v)
		case fieldAuthToken:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			tok := string(v)
			msg.AuthToken = &tok
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	if hasTarget {
		msg.TargetSpeedRPM = &targetValue
	}
	if hasClientUnix {
		msg.ClientUnixUs = &clientUnixValue
	}
	return msg, nil
}

// EncodeStateProto encodes a StateMsg payload.
func EncodeStateProto(msg StateMsg) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(binaryState))
	b = protowire.AppendTag(b, fieldVersionMajor, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.ProtocolVersion.Major))
	b = protowire.AppendTag(b, fieldVersionMinor, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.ProtocolVersion.Minor))
	b = protowire.AppendTag(b, fieldSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.Sequence)
	b = protowire.AppendTag(b, fieldIssuedAtUs, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.TimestampUs)
	b = protowire.AppendTag(b, fieldCycleCount, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.CycleCount)
	b = protowire.AppendTag(b, fieldUnixUs, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.UnixUs)
	b = protowire.AppendTag(b, fieldSafetyState, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(safetyStateWireToInt[msg.SafetyState]))
	b = protowire.AppendTag(b, fieldMotorSpeedRPM, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(msg.MotorSpeedRPM))
	b = protowire.AppendTag(b, fieldMotorTempC, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(msg.MotorTempC))
	b = protowire.AppendTag(b, fieldPressureBar, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(msg.PressureBar))
	b = protowire.AppendTag(b, fieldCycleJitterUs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.CycleJitterUs))
	return b
}

// DecodeStateProto parses a binary-framed state payload produced by
// EncodeStateProto.
func DecodeStateProto(data []byte) (StateMsg, error) {
	var msg StateMsg
	msg.Type = MsgTypeState

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return msg, protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case fieldVersionMajor:
				msg.ProtocolVersion.Major = uint8(v)
			case fieldVersionMinor:
				msg.ProtocolVersion.Minor = uint8(v)
			case fieldSequence:
				msg.Sequence = v
			case fieldIssuedAtUs:
				msg.TimestampUs = v
			case fieldCycleCount:
				msg.CycleCount = v
			case fieldUnixUs:
				msg.UnixUs = v
			case fieldSafetyState:
				msg.SafetyState = safetyStateIntToWire[int32(v)]
			case fieldCycleJitterUs:
				msg.CycleJitterUs = uint32(v)
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case fieldMotorSpeedRPM:
				msg.MotorSpeedRPM = math.Float64frombits(v)
			case fieldMotorTempC:
				msg.MotorTempC = math.Float64frombits(v)
			case fieldPressureBar:
				msg.PressureBar = math.Float64frombits(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return msg, nil
}

// EncodeHelloProto encodes a HelloMsg payload.
func EncodeHelloProto(msg HelloMsg) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(binaryHello))
	b = protowire.AppendTag(b, fieldVersionMajor, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.ProtocolVersion.Major))
	b = protowire.AppendTag(b, fieldVersionMinor, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.ProtocolVersion.Minor))
	for _, c := range msg.Capabilities {
		b = protowire.AppendTag(b, fieldCapability, protowire.BytesType)
		b = protowire.AppendString(b, c)
	}
	if msg.ClientID != nil {
		b = protowire.AppendTag(b, fieldClientID, protowire.BytesType)
		b = protowire.AppendString(b, *msg.ClientID)
	}
	return b
}

// DecodeHelloProto parses a binary-framed hello payload produced by
// EncodeHelloProto.
func DecodeHelloProto(data []byte) (HelloMsg, error) {
	var msg HelloMsg
	msg.Type = MsgTypeHello

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return msg, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case fieldVersionMajor:
				msg.ProtocolVersion.Major = uint8(v)
			case fieldVersionMinor:
				msg.ProtocolVersion.Minor = uint8(v)
			}
		case num == fieldCapability && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			msg.Capabilities = append(msg.Capabilities, string(v))
		case num == fieldClientID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
			id := string(v)
			msg.ClientID = &id
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return msg, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return msg, nil
}

// DecodeBinaryPayload dispatches a binary-framed payload to the decoder
// matching its discriminator. Only client-originated messages (hello,
// recommendation) are accepted; a state payload arriving inbound is a
// protocol error.
func DecodeBinaryPayload(data []byte) (Incoming, error) {
	msgType, err := peekBinaryMsgType(data)
	if err != nil {
		return Incoming{}, err
	}
	switch msgType {
	case binaryHello:
		hello, err := DecodeHelloProto(data)
		if err != nil {
			return Incoming{}, err
		}
		return Incoming{Kind: IncomingHello, Hello: hello}, nil
	case binaryRecommendation:
		rec, err := DecodeRecommendationProto(data)
		if err != nil {
			return Incoming{}, err
		}
		return Incoming{Kind: IncomingRecommendation, Recommendation: rec}, nil
	default:
		return Incoming{}, fmt.Errorf("unsupported inbound message type %d", msgType)
	}
}

// peekBinaryMsgType reads only the discriminator field from a payload,
// without fully decoding it.
func peekBinaryMsgType(data []byte) (binaryMsgType, error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		data = data[n:]
		if num == fieldMsgType && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			return binaryMsgType(v), nil
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		data = data[n:]
	}
	return 0, fmt.Errorf("no msg_type field present")
}
