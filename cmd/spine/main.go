// Command spine runs the deterministic motor controller: the control
// loop, the cortex-facing bridge, and the supporting metrics, audit,
// and visualizer services.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/neuroplc/spine/internal/audit"
	"github.com/neuroplc/spine/internal/auth"
	"github.com/neuroplc/spine/internal/bridge"
	"github.com/neuroplc/spine/internal/config"
	"github.com/neuroplc/spine/internal/control"
	"github.com/neuroplc/spine/internal/exchange"
	"github.com/neuroplc/spine/internal/hal"
	"github.com/neuroplc/spine/internal/metrics"
	"github.com/neuroplc/spine/internal/safety"
	"github.com/neuroplc/spine/internal/supervisor"
	"github.com/neuroplc/spine/internal/timebase"
	"github.com/neuroplc/spine/internal/tlsconfig"
	"github.com/neuroplc/spine/internal/visualizer"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	listenAddr := flag.String("listen", "", "bridge bind address (overrides config)")
	bridgeEnabled := flag.Bool("bridge", true, "enable the cortex-facing bridge listener")
	runDuration := flag.Duration("duration", 0, "run for this long then shut down (0 = until signalled)")
	metricsAddr := flag.String("metrics", "", "metrics HTTP bind address (overrides config)")
	auditPath := flag.String("audit-log", "", "audit log path (overrides config)")
	authSecret := flag.String("auth-secret", "", "bridge auth HMAC secret (overrides config)")
	wireProtocol := flag.String("protocol", "", "bridge wire encoding: json or proto (overrides config)")
	requireHandshake := flag.Bool("require-handshake", true, "require a hello before recommendations")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.Bridge.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.ListenAddr = *metricsAddr
	}
	if *auditPath != "" {
		cfg.Audit.LogPath = *auditPath
	}
	if *authSecret != "" {
		cfg.Auth.HMACSecret = *authSecret
	}
	switch *wireProtocol {
	case "":
	case "json":
		cfg.Bridge.Framing = "text"
	case "proto":
		cfg.Bridge.Framing = "binary"
	default:
		log.Fatalf("unknown wire protocol %q (want json or proto)", *wireProtocol)
	}
	if !*requireHandshake {
		cfg.Bridge.SkipHandshake = true
	}

	slog.Info("starting spine controller", "hal_backend", cfg.HAL.Backend, "bridge_addr", cfg.Bridge.ListenAddr)

	var io hal.MachineIO
	switch cfg.HAL.Backend {
	case "fieldbus":
		// FieldBusClient polls a hal.RegisterClient; no Modbus/OPC-UA
		// client ships with this binary. A deployment targeting real
		// hardware supplies its own RegisterClient and wires it in here.
		log.Fatal("hal backend \"fieldbus\" requires a RegisterClient to be wired in at build time; none is configured")
	default:
		io = hal.NewSimulatedMotor()
	}

	limits := safety.Limits{
		MaxSpeedRPM:     cfg.Control.MaxSpeedRPM,
		MinSpeedRPM:     cfg.Control.MinSpeedRPM,
		MaxRateOfChange: cfg.Control.MaxRateOfChange,
		MaxTempC:        cfg.Control.MaxTempC,
	}
	sup := supervisor.New(limits)
	tb := timebase.New()
	exch := exchange.New(cfg.Control.RecommendationMaxAgeMillis * 1000)

	auditFile, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("open audit log: %v", err)
	}
	defer auditFile.Close()
	auditLog := audit.New(auditFile)
	auditLog.Append(audit.EventConfigLoaded, map[string]string{"hal_backend": cfg.HAL.Backend, "bridge_addr": cfg.Bridge.ListenAddr})

	m := metrics.New()

	controlCfg := control.Config{
		CycleTime:            time.Duration(cfg.Control.CycleTimeMicros) * time.Microsecond,
		Limits:               limits,
		RecommendationMaxAge: time.Duration(cfg.Control.RecommendationMaxAgeMillis) * time.Millisecond,
		WatchdogTimeout:      time.Duration(cfg.Control.WatchdogTimeoutMillis) * time.Millisecond,
	}
	loop := control.New(io, controlCfg, exch, sup, tb, m, auditLog)

	validator := auth.NewValidator(auth.Config{
		Secret:             []byte(cfg.Auth.HMACSecret),
		PreviousSecret:     []byte(cfg.Auth.PreviousHMACSecret),
		RotationGrace:      time.Duration(cfg.Auth.RotationGraceHours) * time.Hour,
		ExpectedIssuer:     cfg.Auth.ExpectedIssuer,
		ExpectedAudience:   cfg.Auth.ExpectedAudience,
		ClockSkewTolerance: time.Duration(cfg.Auth.ClockSkewToleranceSec) * time.Second,
		MaxTokenAge:        time.Duration(cfg.Auth.MaxTokenAgeSec) * time.Second,
		ReplayWindowSize:   cfg.Auth.ReplayWindowSize,
		RequiredScope:      cfg.Auth.RequiredScope,
	})

	bridgeCfg := bridge.Config{
		ListenAddr:           cfg.Bridge.ListenAddr,
		StatePublishInterval: time.Duration(cfg.Bridge.StatePublishMillis) * time.Millisecond,
		ClockSkewTolerance:   time.Duration(cfg.Bridge.ClockSkewToleranceSec) * time.Second,
		TimeBase:             tb,
		SkipHandshake:        cfg.Bridge.SkipHandshake,
		AuthDisabled:         cfg.Auth.Disabled,
	}
	if cfg.Bridge.Framing == "binary" {
		bridgeCfg.Framing = bridge.FramingBinary
	}
	if cfg.TLS.Enabled {
		built, err := tlsconfig.Build(tlsconfig.Config{
			CertFile:          cfg.TLS.CertFile,
			KeyFile:           cfg.TLS.KeyFile,
			ClientCAFile:      cfg.TLS.ClientCAFile,
			RequireClientCert: cfg.TLS.RequireClientCert,
		})
		if err != nil {
			log.Fatalf("build tls config: %v", err)
		}
		bridgeCfg.TLSConfig = built
	}
	var br *bridge.Bridge
	if *bridgeEnabled {
		br = bridge.New(bridgeCfg, exch, validator, m, auditLog)
	}

	metricsServer := metrics.NewServer()

	var vis *visualizer.Streamer
	visStop := make(chan struct{})
	if cfg.Visualizer.Enabled {
		vis = visualizer.New()
		go vis.Run(visStop)

		visMux := http.NewServeMux()
		visMux.HandleFunc("/ws", vis.HandleWebSocket)
		go func() {
			if err := http.ListenAndServe(cfg.Visualizer.ListenAddr, visMux); err != nil {
				slog.Error("visualizer server stopped", "error", err)
			}
		}()

		go func() {
			ticker := time.NewTicker(visualizer.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-visStop:
					return
				case <-ticker.C:
					vis.Publish(exch.ReadState())
				}
			}
		}()
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	requestStop := func() { stopOnce.Do(func() { close(stop) }) }
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		requestStop()
	}()
	if *runDuration > 0 {
		go func() {
			select {
			case <-time.After(*runDuration):
				slog.Info("run duration elapsed")
				requestStop()
			case <-stop:
			}
		}()
	}

	go func() {
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, metricsServer.Handler()); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	if br != nil {
		go func() {
			if err := br.ListenAndServe(stop); err != nil {
				slog.Error("bridge stopped", "error", err)
			}
		}()
	}

	// Readiness means the control loop has actually executed a cycle, not
	// merely that the process is up.
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if exch.ReadState().CycleCount > 0 {
				metricsServer.SetReady(true)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	stopped := &atomic.Bool{}
	go func() {
		<-stop
		stopped.Store(true)
		close(visStop)
	}()

	auditLog.Append(audit.EventSystemStart, nil)
	loop.Run(stopped)
	auditLog.Append(audit.EventSystemShutdown, map[string]string{"stats": fmt.Sprintf("%+v", loop.Stats())})
	slog.Info("control loop exited", "stats", loop.Stats())
	slog.Info("hal cycle stats", "stats", io.CycleStats())
}
