package protocol

import (
	"encoding/json"
	"fmt"
)

// IncomingKind discriminates a parsed inbound frame (text or binary).
type IncomingKind int

const (
	IncomingHello IncomingKind = iota
	IncomingRecommendation
)

// Incoming is a parsed inbound message, from ParseLine or
// DecodeBinaryPayload: exactly one of
// Hello or Recommendation is populated, selected by Kind.
type Incoming struct {
	Kind           IncomingKind
	Hello          HelloMsg
	Recommendation RecommendationMsg
}

// ParseLine decodes one newline-delimited JSON text frame. An
// unrecognized or undecodable "type" yields an error;
// the bridge logs it and drops the message. No protocol-error counter
// is kept.
func ParseLine(line []byte) (Incoming, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return Incoming{}, fmt.Errorf("decode frame: %w", err)
	}
	switch probe.Type {
	case MsgTypeHello:
		var hello HelloMsg
		if err := json.Unmarshal(line, &hello); err != nil {
			return Incoming{}, fmt.Errorf("decode hello: %w", err)
		}
		return Incoming{Kind: IncomingHello, Hello: hello}, nil
	case MsgTypeRecommendation:
		var rec RecommendationMsg
		if err := json.Unmarshal(line, &rec); err != nil {
			return Incoming{}, fmt.Errorf("decode recommendation: %w", err)
		}
		return Incoming{Kind: IncomingRecommendation, Recommendation: rec}, nil
	default:
		return Incoming{}, fmt.Errorf("unsupported message type %q", probe.Type)
	}
}

// EncodeStateLine serializes a StateMsg as a single newline-terminated
// JSON line.
func EncodeStateLine(msg StateMsg) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// EncodeRecommendationLine serializes a RecommendationMsg as a single
// newline-terminated JSON line, used by the reference demo client.
func EncodeRecommendationLine(msg RecommendationMsg) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// EncodeHelloLine serializes a HelloMsg as a single newline-terminated
// JSON line.
func EncodeHelloLine(msg HelloMsg) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
