// Package visualizer optionally streams process snapshots to connected
// websocket clients, for live plotting of motor speed/temperature/
// pressure during development. It is not on the control-loop hot path:
// the control loop never blocks on it, and a slow or absent client
// cannot affect cycle timing.
package visualizer

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neuroplc/spine/internal/exchange"
)

// Frame is one broadcast unit: a process snapshot tagged with the
// protocol tag keys so the browser-side plotter needs no server-side
// knowledge of field names beyond this wire shape.
type Frame struct {
	TimestampUs   uint64  `json:"timestamp_us"`
	CycleCount    uint64  `json:"cycle_count"`
	MotorSpeedRPM float64 `json:"motor_speed_rpm"`
	MotorTempC    float64 `json:"motor_temp_c"`
	PressureBar   float64 `json:"pressure_bar"`
	CycleJitterUs uint32  `json:"cycle_jitter_us"`
	SafetyState   string  `json:"safety_state"`
}

// Streamer is a websocket broadcast hub for Frame values.
type Streamer struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Frame
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// New creates a Streamer. Call Run in its own goroutine before serving
// HandleWebSocket.
func New() *Streamer {
	return &Streamer{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Frame, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run services the hub's register/unregister/broadcast channels until
// stop is closed.
func (s *Streamer) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			s.mu.Unlock()
		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.Close()
			}
			s.mu.Unlock()
		case frame := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				if err := client.WriteJSON(frame); err != nil {
					log.Printf("visualizer: write error: %v", err)
					client.Close()
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request to a websocket connection
// and registers it with the hub.
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("visualizer: upgrade error: %v", err)
		return
	}
	s.register <- conn

	go func() {
		defer func() { s.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish is non-blocking: it drops the frame instead of stalling the
// caller when the broadcast channel is saturated, so a slow or stuck
// visualizer UI can never back-pressure the control loop.
func (s *Streamer) Publish(snapshot exchange.ProcessSnapshot) {
	frame := Frame{
		TimestampUs:   snapshot.TimestampMicros,
		CycleCount:    snapshot.CycleCount,
		MotorSpeedRPM: snapshot.MotorSpeedRPM,
		MotorTempC:    snapshot.MotorTempC,
		PressureBar:   snapshot.PressureBar,
		CycleJitterUs: snapshot.CycleJitterUs,
		SafetyState:   safetyStateWire(snapshot.SafetyState),
	}
	select {
	case s.broadcast <- frame:
	default:
	}
}

func safetyStateWire(tag exchange.SafetyStateTag) string {
	switch tag {
	case exchange.TagNormal:
		return "normal"
	case exchange.TagDegraded:
		return "degraded"
	case exchange.TagTrip:
		return "trip"
	case exchange.TagSafe:
		return "safe"
	default:
		return "unknown"
	}
}

// PollInterval is the cadence at which callers should read the state
// exchange and Publish, matching the bridge's outbound publish cadence
// rather than every control cycle.
const PollInterval = 100 * time.Millisecond
