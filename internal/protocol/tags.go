package protocol

// Tag names a single observable quantity once so every external sink
// (Prometheus metric name, websocket visualizer path, recording stream)
// agrees on it.
type Tag struct {
	Key        string
	Metric     string
	RerunPath  string
}

var (
	TagMotorSpeedRPM = Tag{Key: "motor_speed_rpm", Metric: "spine_motor_speed_rpm", RerunPath: "motor/speed/actual"}
	TagMotorTempC    = Tag{Key: "motor_temp_c", Metric: "spine_motor_temperature_celsius", RerunPath: "motor/temperature"}
	TagPressureBar   = Tag{Key: "pressure_bar", Metric: "spine_system_pressure_bar", RerunPath: "motor/pressure"}
	TagCycleJitterUs = Tag{Key: "cycle_jitter_us", Metric: "spine_cycle_jitter_microseconds", RerunPath: "system/cycle_jitter_us"}
	TagTimestampUs   = Tag{Key: "timestamp_us", Metric: "spine_timestamp_us", RerunPath: "system/timestamp_us"}
	TagAgentTargetRPM = Tag{Key: "agent_target_rpm", Metric: "spine_agent_target_rpm", RerunPath: "motor/speed/agent_target"}
	TagAgentConfidence = Tag{Key: "agent_confidence", Metric: "spine_agent_confidence", RerunPath: "motor/agent/confidence"}
)
