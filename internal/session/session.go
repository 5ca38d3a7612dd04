// Package session implements the inbound bridge session state machine:
// a single TCP/TLS peer's handshake gate and monotonic sequence
// tracking. One Session exists per accepted connection and is
// owned exclusively by that connection's goroutine.
package session

import "fmt"

// State is the closed set of lifecycle states for one inbound
// connection.
type State int

const (
	AwaitingHandshake State = iota
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingHandshake:
		return "awaiting_handshake"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session tracks per-connection protocol state across the lifetime of
// one bridge connection.
type Session struct {
	state               State
	clientID            string
	capabilities         []string
	lastAcceptedSequence uint64
	haveSequence         bool
}

// New creates a session in AwaitingHandshake.
func New() *Session {
	return &Session{state: AwaitingHandshake}
}

// NewReady creates a session that already holds clientID and
// capabilities as if a handshake had completed, for deployments where
// the handshake gate is disabled by configuration and a peer may send
// recommendations immediately.
func NewReady(clientID string, capabilities []string) *Session {
	return &Session{state: Ready, clientID: clientID, capabilities: capabilities}
}

// State returns the current session state.
func (s *Session) State() State { return s.state }

// ClientID returns the identity declared in the accepted handshake, or
// "" if no handshake has completed.
func (s *Session) ClientID() string { return s.clientID }

// Capabilities returns the capability set declared in the accepted
// handshake.
func (s *Session) Capabilities() []string { return s.capabilities }

// CompleteHandshake transitions AwaitingHandshake -> Ready, recording
// the peer's declared identity and capabilities. It is an error to call
// this from any other state.
func (s *Session) CompleteHandshake(clientID string, capabilities []string) error {
	if s.state != AwaitingHandshake {
		return fmt.Errorf("handshake already completed (state=%s)", s.state)
	}
	s.clientID = clientID
	s.capabilities = capabilities
	s.state = Ready
	return nil
}

// Close transitions to the terminal Closed state. Idempotent.
func (s *Session) Close() {
	s.state = Closed
}

// CheckSequence enforces strict monotonicity of inbound recommendation
// sequence numbers: the first accepted sequence
// establishes the baseline, and every subsequent one must be strictly
// greater than the last accepted. It does not mutate session state;
// call AcceptSequence once the rest of the pipeline also accepts the
// message.
func (s *Session) CheckSequence(seq uint64) error {
	if seq == 0 {
		return fmt.Errorf("sequence number must be non-zero")
	}
	if !s.haveSequence {
		return nil
	}
	if seq <= s.lastAcceptedSequence {
		return fmt.Errorf("out-of-order sequence %d (last accepted %d)", seq, s.lastAcceptedSequence)
	}
	return nil
}

// AcceptSequence records seq as the new high-water mark. Callers must
// have already passed CheckSequence for this seq.
func (s *Session) AcceptSequence(seq uint64) {
	s.lastAcceptedSequence = seq
	s.haveSequence = true
}

// Ready reports whether the handshake has completed and the session can
// accept recommendations.
func (s *Session) Ready() bool { return s.state == Ready }
