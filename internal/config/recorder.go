package config

// Telemetry sinks.
const (
	RecorderSinkRedis = "redis"
	RecorderSinkLog   = "log"
)

// RecorderConfig configures where telemetry is delivered and how the process
// identifies itself in it.
type RecorderConfig struct {
	Sink        string `envconfig:"SINK" default:"redis" validate:"oneof=redis log"`
	SDKVersion  string `envconfig:"SDK_VERSION" default:"go-bifrost-1.0.0"`
	MachineName string `envconfig:"MACHINE_NAME"`
	MachineIP   string `envconfig:"MACHINE_IP"`
}
