// Package control implements the deterministic control loop (the
// "spine"): fixed-cadence scheduling, sensor read -> decision ->
// actuator write, jitter accounting, and watchdog-driven emergency stop.
// It is the hot path. It does no network I/O and takes no lock of its
// own, but it is not free of locks, writes or allocation: a safety
// rejection, a trip, a newly applied recommendation and a watchdog
// timeout each append to the audit log, which takes the log's mutex and
// writes to its sink, and every cycle that reads a present
// recommendation receives a heap-allocated copy of it.
package control

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/neuroplc/spine/internal/audit"
	"github.com/neuroplc/spine/internal/exchange"
	"github.com/neuroplc/spine/internal/hal"
	"github.com/neuroplc/spine/internal/metrics"
	"github.com/neuroplc/spine/internal/safety"
	"github.com/neuroplc/spine/internal/supervisor"
	"github.com/neuroplc/spine/internal/timebase"
)

// Config configures one control loop instance.
type Config struct {
	CycleTime            time.Duration
	Limits               safety.Limits
	RecommendationMaxAge time.Duration
	WatchdogTimeout      time.Duration
}

// DefaultConfig is the stock simulator configuration: 1 ms cycles,
// 3000 rpm ceiling, 50 rpm/cycle ramp limit, 80 C interlock.
func DefaultConfig() Config {
	return Config{
		CycleTime: time.Millisecond,
		Limits: safety.Limits{
			MaxSpeedRPM:     3000,
			MinSpeedRPM:     0,
			MaxRateOfChange: 50,
			MaxTempC:        80,
		},
		RecommendationMaxAge: 500 * time.Millisecond,
		WatchdogTimeout:      100 * time.Millisecond,
	}
}

// Stats is a point-in-time snapshot of the loop's execution statistics.
type Stats struct {
	CyclesExecuted          uint64
	CyclesMissed            uint64
	MaxJitterMicros         uint64
	SafetyRejections        uint64
	AgentTimeouts           uint64
	LastRecommendationAgeUs uint64
}

// liveStats is the loop's own counter set. Only the control thread
// writes it, but Stats() may be read from any goroutine, so every field
// is atomic.
type liveStats struct {
	cyclesExecuted          atomic.Uint64
	cyclesMissed            atomic.Uint64
	maxJitterMicros         atomic.Uint64
	safetyRejections        atomic.Uint64
	agentTimeouts           atomic.Uint64
	lastRecommendationAgeUs atomic.Uint64
}

// Loop runs the periodic schedule against a hal.MachineIO, a
// supervisor.Supervisor, and a shared exchange.StateExchange.
type Loop struct {
	io       hal.MachineIO
	cfg      Config
	exchange *exchange.StateExchange
	sup      *supervisor.Supervisor
	timebase timebase.TimeBase
	metrics  *metrics.Metrics
	auditLog *audit.Log

	stats          liveStats
	cycleCount     uint64
	haveAppliedRec bool
	lastAppliedUs  uint64
}

// New constructs a control Loop. The caller owns io and sup exclusively
// for the lifetime of the loop. m and auditLog
// are fed once per cycle so /metrics and the audit trail both reflect
// the loop's live state, not just its final Stats snapshot.
func New(io hal.MachineIO, cfg Config, exch *exchange.StateExchange, sup *supervisor.Supervisor, tb timebase.TimeBase, m *metrics.Metrics, auditLog *audit.Log) *Loop {
	return &Loop{io: io, cfg: cfg, exchange: exch, sup: sup, timebase: tb, metrics: m, auditLog: auditLog}
}

// Run executes cycles until stop is set or the watchdog fires. stop is
// polled once per cycle boundary; any external holder may request
// cooperative shutdown by setting it. Run never panics or returns an
// error: all per-cycle failures are recorded in Stats, and a watchdog
// overrun is the sole fatal condition, in which case Run performs an
// emergency stop, latches the supervisor to Safe, and returns.
func (l *Loop) Run(stop *atomic.Bool) {
	nextCycle := time.Now()
	cycleDtSeconds := l.cfg.CycleTime.Seconds()

	for !stop.Load() {
		now := time.Now()
		if now.Before(nextCycle) {
			for time.Now().Before(nextCycle) {
				// spin-wait: sub-millisecond cadence makes sleep-based
				// waits unacceptably jittery on a general-purpose OS.
			}
		} else {
			l.stats.cyclesMissed.Add(1)
			l.metrics.CyclesMissed.Inc()
			overrun := now.Sub(nextCycle)
			if overrun > l.cfg.WatchdogTimeout {
				l.auditLog.Append(audit.EventWatchdogTimeout, map[string]string{
					"overrun_us": fmt.Sprintf("%d", overrun.Microseconds()),
				})
				l.emergencyStop()
				return
			}
		}

		cycleStart := time.Now()
		timestampUs := l.timebase.NowMicros()

		l.io.Step(cycleDtSeconds)

		currentSpeed := l.io.ReadSpeed()
		currentTemp := l.io.ReadTemperature()
		currentPressure := l.io.ReadPressure()

		target := l.resolveTarget(timestampUs)

		outputSpeed, violation := l.sup.Apply(target, currentSpeed, currentTemp)
		if violation != nil {
			l.stats.safetyRejections.Add(1)
			l.metrics.SafetyRejections.WithLabelValues(violation.Kind.String()).Inc()
			slog.Warn("safety rejection", "kind", violation.Kind.String(),
				"requested", violation.Requested, "limit", violation.Limit)
			l.auditLog.Append(audit.EventSafetyRejection, map[string]string{
				"kind":      violation.Kind.String(),
				"requested": fmt.Sprintf("%v", violation.Requested),
				"limit":     fmt.Sprintf("%v", violation.Limit),
			})
			if l.sup.State() == supervisor.Trip {
				l.auditLog.Append(audit.EventSupervisorTrip, map[string]string{"kind": violation.Kind.String()})
			}
		}

		l.io.WriteSpeed(outputSpeed)

		cycleDuration := time.Since(cycleStart)
		var jitterUs uint32
		if cycleDuration > l.cfg.CycleTime {
			jitterUs = uint32((cycleDuration - l.cfg.CycleTime).Microseconds())
		}
		if uint64(jitterUs) > l.stats.maxJitterMicros.Load() {
			l.stats.maxJitterMicros.Store(uint64(jitterUs))
		}
		l.stats.cyclesExecuted.Add(1)
		l.metrics.CyclesExecuted.Inc()
		l.cycleCount++

		safetyTag := toTag(l.sup.State())
		l.metrics.ObserveSnapshot(currentSpeed, currentTemp, currentPressure, jitterUs, int(safetyTag))

		l.exchange.PublishState(exchange.ProcessSnapshot{
			TimestampMicros: timestampUs,
			CycleCount:      l.cycleCount,
			MotorSpeedRPM:   currentSpeed,
			MotorTempC:      currentTemp,
			PressureBar:     currentPressure,
			CycleJitterUs:   jitterUs,
			SafetyState:     safetyTag,
		})

		nextCycle = nextCycle.Add(l.cfg.CycleTime)
	}
}

// resolveTarget reads the latest recommendation, treating both "none
// published" and "published but stale" as "no opinion". A present
// recommendation with no target is also "no opinion". An agent timeout
// is only counted once the agent has actually spoken: cycles before the
// first recommendation arrives are absence, not loss.
func (l *Loop) resolveTarget(timestampUs uint64) *float64 {
	rec := l.exchange.GetRecommendation(timestampUs)
	if rec == nil || rec.TargetSpeedRPM == nil {
		if l.haveAppliedRec {
			l.stats.agentTimeouts.Add(1)
			l.metrics.AgentTimeouts.Inc()
		}
		return nil
	}
	l.stats.lastRecommendationAgeUs.Store(timestampUs - rec.TimestampMicros)
	if !l.haveAppliedRec || rec.TimestampMicros != l.lastAppliedUs {
		l.haveAppliedRec = true
		l.lastAppliedUs = rec.TimestampMicros
		l.auditLog.Append(audit.EventRecommendationApplied, map[string]string{
			"target_rpm": fmt.Sprintf("%g", *rec.TargetSpeedRPM),
		})
	}
	target := *rec.TargetSpeedRPM
	return &target
}

// emergencyStop forces actuator=0 and latches the supervisor to Safe.
// There is no in-process recovery path; operators restart the process
// to return to service.
func (l *Loop) emergencyStop() {
	l.io.WriteSpeed(0)
	l.sup.ForceSafe()
	l.auditLog.Append(audit.EventEmergencyStop, nil)
}

func toTag(s supervisor.State) exchange.SafetyStateTag {
	switch s {
	case supervisor.Normal:
		return exchange.TagNormal
	case supervisor.Degraded:
		return exchange.TagDegraded
	case supervisor.Trip:
		return exchange.TagTrip
	case supervisor.Safe:
		return exchange.TagSafe
	default:
		return exchange.TagNormal
	}
}

// Stats returns a snapshot copy of execution statistics. Safe to call
// from any goroutine while the loop runs.
func (l *Loop) Stats() Stats {
	return Stats{
		CyclesExecuted:          l.stats.cyclesExecuted.Load(),
		CyclesMissed:            l.stats.cyclesMissed.Load(),
		MaxJitterMicros:         l.stats.maxJitterMicros.Load(),
		SafetyRejections:        l.stats.safetyRejections.Load(),
		AgentTimeouts:           l.stats.agentTimeouts.Load(),
		LastRecommendationAgeUs: l.stats.lastRecommendationAgeUs.Load(),
	}
}
