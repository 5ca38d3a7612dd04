package visualizer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroplc/spine/internal/exchange"
)

func TestSafetyStateWire(t *testing.T) {
	assert.Equal(t, "normal", safetyStateWire(exchange.TagNormal))
	assert.Equal(t, "degraded", safetyStateWire(exchange.TagDegraded))
	assert.Equal(t, "trip", safetyStateWire(exchange.TagTrip))
	assert.Equal(t, "safe", safetyStateWire(exchange.TagSafe))
}

func TestPublish_DoesNotBlockWithNoRunningHub(t *testing.T) {
	s := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Publish(exchange.ProcessSnapshot{MotorSpeedRPM: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked when the broadcast channel filled up")
	}
}

func TestStreamer_BroadcastsToConnectedClient(t *testing.T) {
	s := New()
	stop := make(chan struct{})
	defer close(stop)
	go s.Run(stop)

	server := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub a moment to process the registration before publishing.
	time.Sleep(50 * time.Millisecond)

	s.Publish(exchange.ProcessSnapshot{
		TimestampMicros: 123,
		CycleCount:      5,
		MotorSpeedRPM:   1500,
		SafetyState:     exchange.TagNormal,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, uint64(123), frame.TimestampUs)
	assert.Equal(t, 1500.0, frame.MotorSpeedRPM)
	assert.Equal(t, "normal", frame.SafetyState)
}
