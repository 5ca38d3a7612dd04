// Package bridge implements the cortex-facing network boundary: a
// single-peer TCP/TLS listener that accepts inbound recommendations
// through the ordered acceptance pipeline and republishes process state
// on a fixed cadence. It never touches the control loop
// directly; all communication with it passes through the lock-free
// internal/exchange.StateExchange.
package bridge

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/neuroplc/spine/internal/audit"
	"github.com/neuroplc/spine/internal/auth"
	"github.com/neuroplc/spine/internal/exchange"
	"github.com/neuroplc/spine/internal/metrics"
	"github.com/neuroplc/spine/internal/protocol"
	"github.com/neuroplc/spine/internal/session"
	"github.com/neuroplc/spine/internal/timebase"
)

// Framing selects the wire encoding used for a bridge connection.
type Framing int

const (
	FramingText Framing = iota
	FramingBinary
)

// Config configures one Bridge instance.
type Config struct {
	ListenAddr         string
	Framing            Framing
	StatePublishInterval time.Duration
	ClockSkewTolerance time.Duration
	TLSConfig          *tls.Config // nil disables TLS

	// TimeBase anchors ingestion timestamps to the same monotonic clock
	// the control loop schedules against. Must be set to the same
	// timebase.TimeBase the control loop was constructed with; the zero
	// value anchors to the zero time.Time, so ingestion timestamps run far
	// ahead of the loop's clock and every accepted recommendation reads as
	// age zero: it never goes stale.
	TimeBase timebase.TimeBase

	// SkipHandshake starts every accepted connection already in
	// session.Ready instead of AwaitingHandshake. Default false.
	SkipHandshake bool

	// AuthDisabled skips the auth-token checks in the acceptance
	// pipeline entirely. Default false: auth is mandatory.
	AuthDisabled bool
}

// Bridge owns the listener and wires inbound/outbound traffic to a
// shared state exchange.
type Bridge struct {
	cfg       Config
	exchange  *exchange.StateExchange
	validator *auth.Validator
	metrics   *metrics.Metrics
	auditLog  *audit.Log
	tb        timebase.TimeBase
}

// New constructs a Bridge. All dependencies are shared with the control
// loop and metrics/audit sinks constructed by the caller. cfg.TimeBase
// must be the same timebase.TimeBase the control loop was constructed
// with, or recommendation ages are measured across two different clocks.
func New(cfg Config, exch *exchange.StateExchange, validator *auth.Validator, m *metrics.Metrics, auditLog *audit.Log) *Bridge {
	return &Bridge{cfg: cfg, exchange: exch, validator: validator, metrics: m, auditLog: auditLog, tb: cfg.TimeBase}
}

// ListenAndServe accepts connections until stop is closed. Only one
// connection is serviced at a time: ListenAndServe blocks on each
// accepted connection's full lifetime before accepting the next.
func (b *Bridge) ListenAndServe(stop <-chan struct{}) error {
	var ln net.Listener
	var err error
	if b.cfg.TLSConfig != nil {
		ln, err = tls.Listen("tcp", b.cfg.ListenAddr, b.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", b.cfg.ListenAddr)
	}
	if err != nil {
		return fmt.Errorf("bridge listen on %s: %w", b.cfg.ListenAddr, err)
	}
	defer ln.Close()

	go func() {
		<-stop
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				slog.Error("bridge accept error", "error", err)
				continue
			}
		}
		b.handleConnection(conn, stop)
	}
}

func (b *Bridge) handleConnection(conn net.Conn, stop <-chan struct{}) {
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	slog.Info("bridge connection accepted", "peer", peer)
	b.metrics.BridgeConnected.Set(1)
	b.auditLog.Append(audit.EventSessionOpened, map[string]string{"peer": peer})
	defer func() {
		b.metrics.BridgeConnected.Set(0)
		b.auditLog.Append(audit.EventSessionClosed, map[string]string{"peer": peer})
		slog.Info("bridge connection closed", "peer", peer)
	}()

	var sess *session.Session
	if b.cfg.SkipHandshake {
		sess = session.NewReady("", nil)
	} else {
		sess = session.New()
	}

	connStop := make(chan struct{})
	defer close(connStop)
	go b.publishLoop(conn, connStop)

	switch b.cfg.Framing {
	case FramingBinary:
		b.readBinaryLoop(conn, sess)
	default:
		b.readTextLoop(conn, sess)
	}
}

func (b *Bridge) readTextLoop(conn net.Conn, sess *session.Session) {
	reader := bufio.NewReaderSize(conn, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				slog.Warn("bridge read error", "error", err)
			}
			return
		}
		incoming, err := protocol.ParseLine(line)
		if err != nil {
			slog.Warn("bridge frame decode error", "error", err)
			continue
		}
		b.handleIncoming(sess, incoming)
	}
}

func (b *Bridge) readBinaryLoop(conn net.Conn, sess *session.Session) {
	for {
		payload, err := protocol.ReadBinaryFrame(conn)
		if err != nil {
			if err != io.EOF {
				slog.Warn("bridge binary read error", "error", err)
			}
			return
		}
		incoming, err := protocol.DecodeBinaryPayload(payload)
		if err != nil {
			slog.Warn("bridge binary frame malformed", "error", err)
			continue
		}
		b.handleIncoming(sess, incoming)
	}
}

func (b *Bridge) handleIncoming(sess *session.Session, incoming protocol.Incoming) {
	switch incoming.Kind {
	case protocol.IncomingHello:
		if !incoming.Hello.ProtocolVersion.Supported() {
			slog.Warn("rejecting hello: unsupported protocol version")
			return
		}
		clientID := ""
		if incoming.Hello.ClientID != nil {
			clientID = *incoming.Hello.ClientID
		}
		if err := sess.CompleteHandshake(clientID, incoming.Hello.Capabilities); err != nil {
			slog.Warn("handshake rejected", "error", err)
			return
		}
		slog.Info("bridge handshake complete", "client_id", clientID)

	case protocol.IncomingRecommendation:
		rec, err := ValidateRecommendation(sess, incoming.Recommendation, b.validator, !b.cfg.AuthDisabled, b.cfg.ClockSkewTolerance, time.Now(), b.tb.NowMicros())
		if err != nil {
			b.recordRejection(err)
			return
		}
		sess.AcceptSequence(incoming.Recommendation.Sequence)
		b.auditLog.Append(audit.EventRecommendationReceived, map[string]string{"sequence": fmt.Sprintf("%d", incoming.Recommendation.Sequence)})
		b.exchange.SubmitRecommendation(*rec)
		if rec.TargetSpeedRPM != nil {
			b.metrics.AgentTargetRPM.Set(*rec.TargetSpeedRPM)
		}
		b.metrics.AgentConfidence.Set(float64(rec.Confidence))
	}
}

func (b *Bridge) recordRejection(err error) {
	var pe *PipelineError
	reason := RejectReason("unknown")
	if e, ok := err.(*PipelineError); ok {
		pe = e
		reason = pe.Reason
	}
	switch reason {
	case RejectStale:
		b.metrics.RecommendationExpired.Inc()
	case RejectOutOfOrder, RejectZeroSequence:
		b.metrics.RecommendationOutOfOrder.Inc()
	case RejectAuthInvalid:
		b.metrics.AuthFailures.Inc()
		b.auditLog.Append(audit.EventAuthFailure, map[string]string{"reason": string(reason)})
	case RejectAuthMissing:
		b.metrics.AuthMissing.Inc()
		b.auditLog.Append(audit.EventAuthFailure, map[string]string{"reason": string(reason)})
	}
	b.auditLog.Append(audit.EventRecommendationRejected, map[string]string{"reason": string(reason)})
	slog.Warn("recommendation rejected", "reason", reason)
}

// publishLoop periodically writes outbound StateMsg frames, with a
// strictly monotonic sequence number local to this connection. It never
// blocks the control loop: it only ever reads from the exchange, never
// waits on it.
func (b *Bridge) publishLoop(conn net.Conn, stop <-chan struct{}) {
	interval := b.cfg.StatePublishInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var outboundSeq uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snapshot := b.exchange.ReadState()
			if snapshot.TimestampMicros == 0 {
				continue // nothing published yet
			}
			outboundSeq++
			msg := protocol.StateMsg{
				Type:            protocol.MsgTypeState,
				ProtocolVersion: protocol.V1,
				Sequence:        outboundSeq,
				TimestampUs:     snapshot.TimestampMicros,
				CycleCount:      snapshot.CycleCount,
				UnixUs:          uint64(time.Now().UnixMicro()),
				SafetyState:     safetyStateWire(snapshot.SafetyState),
				MotorSpeedRPM:   snapshot.MotorSpeedRPM,
				MotorTempC:      snapshot.MotorTempC,
				PressureBar:     snapshot.PressureBar,
				CycleJitterUs:   snapshot.CycleJitterUs,
			}

			var payload []byte
			var err error
			if b.cfg.Framing == FramingBinary {
				payload = protocol.EncodeStateProto(msg)
				err = protocol.EncodeBinaryFrame(conn, payload)
			} else {
				payload, err = protocol.EncodeStateLine(msg)
				if err == nil {
					err = writeFull(conn, payload)
				}
			}
			if err != nil {
				slog.Warn("bridge publish write error", "error", err)
				return
			}
		}
	}
}

// writeFull writes all of data to w, looping over partial writes: a
// single conn.Write on a TCP socket can return having written fewer
// bytes than requested under backpressure.
func writeFull(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func safetyStateWire(tag exchange.SafetyStateTag) protocol.SafetyStateWire {
	switch tag {
	case exchange.TagNormal:
		return protocol.WireNormal
	case exchange.TagDegraded:
		return protocol.WireDegraded
	case exchange.TagTrip:
		return protocol.WireTrip
	case exchange.TagSafe:
		return protocol.WireSafe
	default:
		return protocol.WireNormal
	}
}
