package bridge

import (
	"encoding/hex"
	"errors"
	"math"
	"time"

	"github.com/neuroplc/spine/internal/auth"
	"github.com/neuroplc/spine/internal/exchange"
	"github.com/neuroplc/spine/internal/protocol"
	"github.com/neuroplc/spine/internal/session"
)

// RejectReason classifies why a recommendation was not accepted, for
// metrics and audit logging.
type RejectReason string

const (
	RejectUnsupportedVersion RejectReason = "unsupported_version"
	RejectNotReady           RejectReason = "handshake_not_complete"
	RejectZeroSequence       RejectReason = "zero_sequence"
	RejectOutOfOrder         RejectReason = "out_of_order_sequence"
	RejectMissingTiming      RejectReason = "missing_ttl_or_issued_at"
	RejectClockSkew          RejectReason = "clock_skew"
	RejectStale              RejectReason = "expired_ttl"
	RejectAuthMissing        RejectReason = "auth_missing"
	RejectAuthInvalid        RejectReason = "auth_invalid"
	RejectBadReasoningHash   RejectReason = "malformed_reasoning_hash"
	RejectNonFiniteTarget    RejectReason = "non_finite_target"
	RejectConfidenceBounds   RejectReason = "confidence_out_of_bounds"
)

// PipelineError reports the ordered-check step at which a recommendation
// was rejected.
type PipelineError struct {
	Reason RejectReason
}

func (e *PipelineError) Error() string { return string(e.Reason) }

func reject(reason RejectReason) error { return &PipelineError{Reason: reason} }

// reasoningHashLen is the hex-encoded length of a SHA-256 digest.
const reasoningHashLen = 64

// ValidateRecommendation runs the fixed, ordered acceptance pipeline
// against an inbound recommendation, in the session's current context.
// It never mutates sess; callers must call sess.AcceptSequence once the
// message is otherwise committed.
//
// now is the bridge's wall clock, used for the issued-at/TTL checks
// against the peer-supplied wall-clock timestamps. ingestionUs is the
// bridge's current reading of the same monotonic clock the control loop
// schedules against (internal/timebase). The accepted AgentRecommendation
// is stamped with ingestionUs, not a wall-clock value, because
// StateExchange.GetRecommendation ages recommendations against
// timebase.NowMicros.
//
// authRequired mirrors the bridge's auth.disabled configuration; when
// false, the auth-token checks are skipped entirely.
func ValidateRecommendation(sess *session.Session, msg protocol.RecommendationMsg, validator *auth.Validator, authRequired bool, clockSkew time.Duration, now time.Time, ingestionUs uint64) (*exchange.AgentRecommendation, error) {
	if !msg.ProtocolVersion.Supported() {
		return nil, reject(RejectUnsupportedVersion)
	}
	if !sess.Ready() {
		return nil, reject(RejectNotReady)
	}
	if msg.Sequence == 0 {
		return nil, reject(RejectZeroSequence)
	}
	if err := sess.CheckSequence(msg.Sequence); err != nil {
		return nil, reject(RejectOutOfOrder)
	}
	if msg.TTLMillis == 0 || msg.IssuedAtUnixUs == 0 {
		return nil, reject(RejectMissingTiming)
	}

	issuedAt := time.UnixMicro(int64(msg.IssuedAtUnixUs))
	if issuedAt.After(now.Add(clockSkew)) {
		return nil, reject(RejectClockSkew)
	}

	expiresAt := issuedAt.Add(time.Duration(msg.TTLMillis) * time.Millisecond)
	if now.After(expiresAt.Add(clockSkew)) {
		return nil, reject(RejectStale)
	}

	if authRequired {
		if msg.AuthToken == nil || *msg.AuthToken == "" {
			return nil, reject(RejectAuthMissing)
		}
		if _, err := validator.Validate(*msg.AuthToken, now); err != nil {
			return nil, reject(RejectAuthInvalid)
		}
	}

	hashBytes, err := decodeReasoningHash(msg.ReasoningHash)
	if err != nil {
		return nil, reject(RejectBadReasoningHash)
	}

	if msg.TargetSpeedRPM != nil && !isFinite(*msg.TargetSpeedRPM) {
		return nil, reject(RejectNonFiniteTarget)
	}

	if msg.Confidence < 0 || msg.Confidence > 1 || math.IsNaN(float64(msg.Confidence)) {
		return nil, reject(RejectConfidenceBounds)
	}

	return &exchange.AgentRecommendation{
		TimestampMicros: ingestionUs,
		TargetSpeedRPM:  msg.TargetSpeedRPM,
		Confidence:      msg.Confidence,
		ReasoningHash:   hashBytes,
	}, nil
}

func decodeReasoningHash(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) != reasoningHashLen {
		return out, errors.New("reasoning hash has wrong length")
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
