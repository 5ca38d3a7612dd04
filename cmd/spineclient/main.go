// Command spineclient is a reference cortex-side demo client: it
// connects to a running spine bridge, completes the handshake, and
// streams synthetic speed recommendations so the controller can be
// exercised without a real inference stack attached.
package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/neuroplc/spine/internal/auth"
	"github.com/neuroplc/spine/internal/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:7400", "bridge address")
	secret := flag.String("secret", "", "HMAC secret shared with the bridge's auth validator")
	rate := flag.Duration("rate", 50*time.Millisecond, "interval between recommendations")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	clientID := "spineclient-" + uuid.NewString()[:8]
	hello := protocol.HelloMsg{
		Type:            protocol.MsgTypeHello,
		ProtocolVersion: protocol.V1,
		Capabilities:    []string{"speed_recommendation"},
		ClientID:        &clientID,
	}
	if err := writeLine(conn, func() ([]byte, error) { return protocol.EncodeHelloLine(hello) }); err != nil {
		log.Fatalf("send hello: %v", err)
	}

	go readStates(conn)

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

	var seq uint64
	t0 := time.Now()
	for range ticker.C {
		seq++
		elapsed := time.Since(t0).Seconds()
		target := 1500 + 1000*math.Sin(elapsed/5)

		reasoning := sha256.Sum256([]byte(fmt.Sprintf("sinusoidal-target-%d", seq)))

		msg := protocol.RecommendationMsg{
			Type:            protocol.MsgTypeRecommendation,
			ProtocolVersion: protocol.V1,
			Sequence:        seq,
			IssuedAtUnixUs:  uint64(time.Now().UnixMicro()),
			TTLMillis:       500,
			TargetSpeedRPM:  &target,
			Confidence:      0.9,
			ReasoningHash:   hex.EncodeToString(reasoning[:]),
		}

		if *secret != "" {
			token, err := auth.Issue([]byte(*secret), auth.TokenClaims{
				Issuer:    "spineclient",
				Subject:   clientID,
				Audience:  "spine-bridge",
				Scope:     []string{"recommend"},
				IssuedAt:  time.Now().Unix(),
				ExpiresAt: time.Now().Add(time.Minute).Unix(),
				Nonce:     uuid.NewString(),
			})
			if err != nil {
				log.Printf("issue token: %v", err)
				continue
			}
			msg.AuthToken = &token
		}

		if err := writeLine(conn, func() ([]byte, error) { return protocol.EncodeRecommendationLine(msg) }); err != nil {
			log.Printf("send recommendation: %v", err)
			return
		}
	}
}

func writeLine(conn net.Conn, encode func() ([]byte, error)) error {
	line, err := encode()
	if err != nil {
		return err
	}
	_, err = conn.Write(line)
	return err
}

func readStates(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var state protocol.StateMsg
		if err := json.Unmarshal(line, &state); err != nil {
			continue
		}
		log.Printf("state: speed=%.1frpm temp=%.1fC safety=%s", state.MotorSpeedRPM, state.MotorTempC, state.SafetyState)
	}
}
