// Package config loads the controller's YAML configuration file and
// layers environment-variable overrides on top: a nested Config struct
// decoded with gopkg.in/yaml.v2, defaults applied for zero-valued
// fields, then a fixed set of env vars consulted for deployment-time
// overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration for one spine process.
type Config struct {
	Control  ControlConfig  `yaml:"control"`
	HAL      HALConfig      `yaml:"hal"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Auth     AuthConfig     `yaml:"auth"`
	TLS      TLSConfig      `yaml:"tls"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    AuditConfig    `yaml:"audit"`
	Visualizer VisualizerConfig `yaml:"visualizer"`
}

// ControlConfig configures the control loop and safety limits.
type ControlConfig struct {
	CycleTimeMicros            uint64  `yaml:"cycle_time_us"`
	MaxSpeedRPM                float64 `yaml:"max_speed_rpm"`
	MinSpeedRPM                float64 `yaml:"min_speed_rpm"`
	MaxRateOfChange            float64 `yaml:"max_rate_of_change_rpm_per_cycle"`
	MaxTempC                   float64 `yaml:"max_temp_c"`
	RecommendationMaxAgeMillis uint64  `yaml:"recommendation_max_age_ms"`
	WatchdogTimeoutMillis      uint64  `yaml:"watchdog_timeout_ms"`
}

// HALConfig selects and configures the hardware abstraction backend.
type HALConfig struct {
	Backend      string `yaml:"backend"` // "simulator" or "fieldbus"
	FieldBusAddr string `yaml:"fieldbus_addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// BridgeConfig configures the cortex-facing TCP/TLS listener.
type BridgeConfig struct {
	ListenAddr            string `yaml:"listen_addr"`
	Framing               string `yaml:"framing"` // "text" or "binary"
	StatePublishMillis    uint64 `yaml:"state_publish_ms"`
	ClockSkewToleranceSec int    `yaml:"clock_skew_tolerance_sec"` // for issued-at/TTL checks against the peer's wall clock

	// SkipHandshake disables the handshake gate: a connection
	// starts in session.Ready and may submit recommendations immediately.
	// Default false (handshake required), matching the CLI surface's
	// require-handshake flag in its default (enabled) position.
	SkipHandshake bool `yaml:"skip_handshake"`
}

// AuthConfig configures bridge token validation.
type AuthConfig struct {
	HMACSecret          string `yaml:"hmac_secret"`
	PreviousHMACSecret  string `yaml:"previous_hmac_secret"`
	RotationGraceHours  int    `yaml:"rotation_grace_hours"`
	ExpectedIssuer      string `yaml:"expected_issuer"`
	ExpectedAudience    string `yaml:"expected_audience"`
	ClockSkewToleranceSec int  `yaml:"clock_skew_tolerance_sec"`
	MaxTokenAgeSec      int    `yaml:"max_token_age_sec"`
	ReplayWindowSize    int    `yaml:"replay_window_size"`
	RequiredScope       string `yaml:"required_scope"`

	// Disabled turns off authentication entirely. Default false: auth is
	// mandatory unless a deployment explicitly opts out.
	Disabled bool `yaml:"disabled"`
}

// TLSConfig configures the bridge listener's TLS material.
type TLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

// MetricsConfig configures the /metrics, /health, /ready HTTP server.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// AuditConfig configures the hash-chained audit log sink.
type AuditConfig struct {
	LogPath string `yaml:"log_path"`
}

// VisualizerConfig configures the optional websocket state streamer.
type VisualizerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and decodes the YAML file at path, then applies
// environment overrides and defaults. A missing file is not an error:
// callers get a zero Config with defaults applied.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, err
			}
		}
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Auth.HMACSecret = getEnv("SPINE_HMAC_SECRET", c.Auth.HMACSecret)
	c.Auth.PreviousHMACSecret = getEnv("SPINE_PREVIOUS_HMAC_SECRET", c.Auth.PreviousHMACSecret)
	c.Bridge.ListenAddr = getEnv("SPINE_BRIDGE_LISTEN_ADDR", c.Bridge.ListenAddr)
	c.Metrics.ListenAddr = getEnv("SPINE_METRICS_LISTEN_ADDR", c.Metrics.ListenAddr)
	c.HAL.FieldBusAddr = getEnv("SPINE_FIELDBUS_ADDR", c.HAL.FieldBusAddr)
	c.TLS.CertFile = getEnv("SPINE_TLS_CERT_FILE", c.TLS.CertFile)
	c.TLS.KeyFile = getEnv("SPINE_TLS_KEY_FILE", c.TLS.KeyFile)
	c.Audit.LogPath = getEnv("SPINE_AUDIT_LOG_PATH", c.Audit.LogPath)

	if v := getEnvFloat("SPINE_MAX_SPEED_RPM", 0); v > 0 {
		c.Control.MaxSpeedRPM = v
	}
	if v := getEnvFloat("SPINE_MAX_TEMP_C", 0); v > 0 {
		c.Control.MaxTempC = v
	}
}

func (c *Config) applyDefaults() {
	if c.Control.CycleTimeMicros == 0 {
		c.Control.CycleTimeMicros = 1000
	}
	if c.Control.MaxSpeedRPM == 0 {
		c.Control.MaxSpeedRPM = 3000
	}
	if c.Control.MaxRateOfChange == 0 {
		c.Control.MaxRateOfChange = 50
	}
	if c.Control.MaxTempC == 0 {
		c.Control.MaxTempC = 80
	}
	if c.Control.RecommendationMaxAgeMillis == 0 {
		c.Control.RecommendationMaxAgeMillis = 500
	}
	if c.Control.WatchdogTimeoutMillis == 0 {
		c.Control.WatchdogTimeoutMillis = 100
	}
	if c.HAL.Backend == "" {
		c.HAL.Backend = "simulator"
	}
	if c.HAL.PollInterval == 0 {
		c.HAL.PollInterval = 2 * time.Millisecond
	}
	if c.Bridge.ListenAddr == "" {
		c.Bridge.ListenAddr = ":7400"
	}
	if c.Bridge.Framing == "" {
		c.Bridge.Framing = "text"
	}
	if c.Bridge.StatePublishMillis == 0 {
		c.Bridge.StatePublishMillis = 100
	}
	if c.Bridge.ClockSkewToleranceSec == 0 {
		c.Bridge.ClockSkewToleranceSec = 5
	}
	if c.Auth.RotationGraceHours == 0 {
		c.Auth.RotationGraceHours = 24
	}
	if c.Auth.ClockSkewToleranceSec == 0 {
		c.Auth.ClockSkewToleranceSec = 2
	}
	if c.Auth.MaxTokenAgeSec == 0 {
		c.Auth.MaxTokenAgeSec = 300
	}
	if c.Auth.ReplayWindowSize == 0 {
		c.Auth.ReplayWindowSize = 4096
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Audit.LogPath == "" {
		c.Audit.LogPath = "spine-audit.log"
	}
	if c.Visualizer.ListenAddr == "" {
		c.Visualizer.ListenAddr = ":7500"
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
