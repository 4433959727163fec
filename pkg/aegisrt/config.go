package aegisrt

import (
	"github.com/ghalamif/AegisRT/internal/adapters/influx"
	"github.com/ghalamif/AegisRT/internal/adapters/kafka"
	"github.com/ghalamif/AegisRT/internal/adapters/mqtt"
	"github.com/ghalamif/AegisRT/internal/adapters/objstore"
	"github.com/ghalamif/AegisRT/internal/adapters/opcua"
	"github.com/ghalamif/AegisRT/internal/app/config"
	"github.com/ghalamif/AegisRT/internal/app/controller"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// LoopConfig holds the period, duration and timing tolerance.
	LoopConfig = config.LoopConfig
	// ControllerConfig holds thresholds, ratios and the fallback load.
	ControllerConfig = config.ControllerConfig
	// Profile is the controller's threshold/ratio set.
	Profile = controller.Profile
	// OutputConfig selects the measurement log path and format.
	OutputConfig = config.OutputConfig
	// TelemetryConfig controls publish cadence, window and signing.
	TelemetryConfig = config.TelemetryConfig
	MQTTConfig      = mqtt.Config
	KafkaConfig     = kafka.Config
	InfluxConfig    = influx.Config
	TimescaleConfig = config.TimescaleConfig
	OPCUAConfig     = opcua.Config
	// UploadConfig enables shipping the finished log to S3/MinIO.
	UploadConfig  = objstore.Config
	MetricsConfig = config.MetricsConfig
	LoggingConfig = config.LoggingConfig
	// Overrides carries command-line values onto a loaded Config.
	Overrides = config.Overrides
)

const (
	FormatCSV     = config.FormatCSV
	FormatJournal = config.FormatJournal
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	cfg := config.Default()
	cfg.ApplyDefaults()
	return &cfg
}

// LoadConfig loads YAML from disk over the defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig for in-memory YAML.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
