package hal

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RegisterClient is the minimal transport a field-bus MachineIO needs:
// read a block of input registers and write a single holding register.
// A real deployment backs this with Modbus TCP or OPC-UA; this package
// ships no such client but defines the seam so one can be dropped in
// without touching FieldBusClient or the control loop above it.
type RegisterClient interface {
	ReadInputRegisters() (speed, temperature, pressure float64, err error)
	WriteHoldingRegister(value float64) error
}

// FieldBusClient polls a RegisterClient on a background goroutine and
// exposes the latest sample through atomics, so Step/Read* never block
// the control thread on field-bus I/O.
type FieldBusClient struct {
	client RegisterClient
	period time.Duration

	speed    atomic.Uint64 // math.Float64bits
	temp     atomic.Uint64
	pressure atomic.Uint64
	healthy  atomic.Bool

	writeMu     sync.Mutex
	pendingCmd  float64
	stats       CycleStats
	statsMu     sync.Mutex
	stopCh      chan struct{}
	stopOnce    sync.Once
	pollStarted bool
}

// NewFieldBusClient wraps client, polling it every period on a
// background goroutine. Call Start before the control loop begins
// calling Step.
func NewFieldBusClient(client RegisterClient, period time.Duration) *FieldBusClient {
	if period <= 0 {
		period = 2 * time.Millisecond
	}
	return &FieldBusClient{client: client, period: period, stopCh: make(chan struct{})}
}

// Start launches the background polling goroutine. Safe to call once.
func (f *FieldBusClient) Start() {
	if f.pollStarted {
		return
	}
	f.pollStarted = true
	go f.pollLoop()
}

// Stop halts the background polling goroutine.
func (f *FieldBusClient) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

func (f *FieldBusClient) pollLoop() {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			start := time.Now()
			speed, temp, pressure, err := f.client.ReadInputRegisters()
			if err != nil {
				f.healthy.Store(false)
				slog.Warn("field-bus read failed", "error", err)
				continue
			}
			f.healthy.Store(true)
			storeFloat(&f.speed, speed)
			storeFloat(&f.temp, temp)
			storeFloat(&f.pressure, pressure)

			f.writeMu.Lock()
			cmd := f.pendingCmd
			f.writeMu.Unlock()
			if err := f.client.WriteHoldingRegister(cmd); err != nil {
				slog.Warn("field-bus write failed", "error", err)
			}

			elapsed := uint64(time.Since(start).Microseconds())
			f.statsMu.Lock()
			f.stats.LastCycleMicros = elapsed
			if elapsed > f.stats.MaxCycleMicros {
				f.stats.MaxCycleMicros = elapsed
			}
			f.statsMu.Unlock()
		}
	}
}

// Step is a no-op for the field bus: sampling happens on the background
// poller, not synchronously with the control loop's cadence.
func (f *FieldBusClient) Step(dtSeconds float64) {}

func (f *FieldBusClient) ReadSpeed() float64       { return loadFloat(&f.speed) }
func (f *FieldBusClient) ReadTemperature() float64 { return loadFloat(&f.temp) }
func (f *FieldBusClient) ReadPressure() float64    { return loadFloat(&f.pressure) }

func (f *FieldBusClient) WriteSpeed(rpm float64) {
	f.writeMu.Lock()
	f.pendingCmd = rpm
	f.writeMu.Unlock()
}

func (f *FieldBusClient) CycleStats() CycleStats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats
}

func (f *FieldBusClient) IsHealthy() bool { return f.healthy.Load() }
