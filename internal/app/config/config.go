package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ghalamif/AegisRT/internal/adapters/influx"
	"github.com/ghalamif/AegisRT/internal/adapters/kafka"
	"github.com/ghalamif/AegisRT/internal/adapters/mqtt"
	"github.com/ghalamif/AegisRT/internal/adapters/objstore"
	"github.com/ghalamif/AegisRT/internal/adapters/opcua"
	"github.com/ghalamif/AegisRT/internal/app/controller"
	"gopkg.in/yaml.v3"
)

const (
	FormatCSV     = "csv"
	FormatJournal = "journal"
)

type Config struct {
	DeviceID   string           `yaml:"device_id"`
	Loop       LoopConfig       `yaml:"loop"`
	Controller ControllerConfig `yaml:"controller"`
	Output     OutputConfig     `yaml:"output"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	MQTT       mqtt.Config      `yaml:"mqtt"`
	Kafka      kafka.Config     `yaml:"kafka"`
	Influx     influx.Config    `yaml:"influx"`
	Timescale  TimescaleConfig  `yaml:"timescale"`
	OPCUA      opcua.Config     `yaml:"opcua"`
	Upload     objstore.Config  `yaml:"upload"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type LoopConfig struct {
	Period        time.Duration `yaml:"period"`
	Duration      time.Duration `yaml:"duration"`
	Tolerance     time.Duration `yaml:"tolerance"`
	SpinThreshold time.Duration `yaml:"spin_threshold"`
	WakeMargin    time.Duration `yaml:"wake_margin"`
}

type ControllerConfig struct {
	controller.Profile `yaml:",inline"`
	FallbackLoad       float64 `yaml:"fallback_load"`
}

type OutputConfig struct {
	Path       string `yaml:"path"`
	Format     string `yaml:"format"`
	FlushEvery int    `yaml:"flush_every"`
}

type TelemetryConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Window         int           `yaml:"window"`
	QueueLen       int           `yaml:"queue_len"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	Sign           bool          `yaml:"sign"`
	KeyPath        string        `yaml:"key_path"`
}

type TimescaleConfig struct {
	ConnString  string `yaml:"conn_string"`
	Table       string `yaml:"table"`
	CreateTable bool   `yaml:"create_table"`
}

func (c TimescaleConfig) Enabled() bool { return c.ConnString != "" }

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default is the configuration used when no file is given. It matches the
// reference deployment: a 20 ms loop for two minutes publishing to the
// gateway broker.
func Default() Config {
	return Config{
		DeviceID: "device1",
		Loop: LoopConfig{
			Period:        20 * time.Millisecond,
			Duration:      120 * time.Second,
			Tolerance:     2 * time.Millisecond,
			SpinThreshold: time.Millisecond,
			WakeMargin:    500 * time.Microsecond,
		},
		Controller: ControllerConfig{
			Profile:      controller.DefaultProfile(),
			FallbackLoad: 25,
		},
		Output: OutputConfig{
			Path:       "logs/rt_adaptive.csv",
			Format:     FormatCSV,
			FlushEvery: 50,
		},
		Telemetry: TelemetryConfig{
			Interval:       200 * time.Millisecond,
			Window:         10,
			QueueLen:       1024,
			PublishTimeout: 150 * time.Millisecond,
			Sign:           true,
		},
		MQTT: mqtt.Config{
			Broker: mqtt.BrokerURL("192.168.1.1"),
		},
		Kafka:     kafka.Config{Topic: kafka.DefaultTopic},
		Timescale: TimescaleConfig{Table: "rt_telemetry"},
		Upload:    objstore.Config{Prefix: "runs"},
		Metrics:   MetricsConfig{Addr: ":9100"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over Default, so keys absent from the file keep their
// default and explicit zero values are honoured.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills values derived from other keys.
func (c *Config) ApplyDefaults() {
	if c.MQTT.MetricsTopic == "" {
		c.MQTT.MetricsTopic = mqtt.MetricsTopic(c.DeviceID)
	}
	if c.MQTT.CmdTopic == "" {
		c.MQTT.CmdTopic = mqtt.CmdTopic(c.DeviceID)
	}
	if c.Telemetry.KeyPath == "" {
		c.Telemetry.KeyPath = "secrets/" + c.DeviceID + ".key"
	}
	if c.Output.Format == "" {
		c.Output.Format = FormatCSV
	}
	if c.OPCUA.Enabled() {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if c.Loop.Period <= 0 {
		return errors.New("loop.period must be > 0")
	}
	if c.Loop.Duration <= 0 {
		return errors.New("loop.duration must be > 0")
	}
	if c.Loop.Tolerance < 0 {
		return errors.New("loop.tolerance must be >= 0")
	}
	if c.Loop.SpinThreshold < 0 || c.Loop.WakeMargin < 0 {
		return errors.New("loop.spin_threshold and loop.wake_margin must be >= 0")
	}
	if err := c.Controller.Profile.Validate(); err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	if c.Controller.FallbackLoad < 0 || c.Controller.FallbackLoad > 100 {
		return fmt.Errorf("controller.fallback_load %.1f must be in [0,100]", c.Controller.FallbackLoad)
	}
	if c.Output.Path == "" {
		return errors.New("output.path is required")
	}
	if c.Output.Format != FormatCSV && c.Output.Format != FormatJournal {
		return fmt.Errorf("output.format %q must be %q or %q", c.Output.Format, FormatCSV, FormatJournal)
	}
	if c.Output.FlushEvery <= 0 {
		return errors.New("output.flush_every must be > 0")
	}
	if c.Telemetry.Interval <= 0 {
		return errors.New("telemetry.interval must be > 0")
	}
	if c.Telemetry.Window <= 0 {
		return errors.New("telemetry.window must be > 0")
	}
	if c.Telemetry.QueueLen <= 0 {
		return errors.New("telemetry.queue_len must be > 0")
	}
	if c.Telemetry.PublishTimeout <= 0 {
		return errors.New("telemetry.publish_timeout must be > 0")
	}
	if c.Telemetry.Sign && c.Telemetry.KeyPath == "" {
		return errors.New("telemetry.key_path is required when telemetry.sign is true")
	}
	if c.MQTT.Enabled() && c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS)
	}
	if c.Influx.Enabled() {
		if err := c.Influx.Validate(); err != nil {
			return fmt.Errorf("influx: %w", err)
		}
	}
	if c.OPCUA.Enabled() {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	if c.Upload.Enabled() {
		if err := c.Upload.Validate(); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
	}
	return nil
}

// Overrides carries command-line values; nil fields leave the config alone.
type Overrides struct {
	PeriodMs  *float64
	DurationS *float64
	EpsilonMs *float64
	Out       *string
	GatewayIP *string
	KeyPath   *string
}

func (c *Config) Apply(o Overrides) {
	if o.PeriodMs != nil {
		c.Loop.Period = time.Duration(*o.PeriodMs * float64(time.Millisecond))
	}
	if o.DurationS != nil {
		c.Loop.Duration = time.Duration(*o.DurationS * float64(time.Second))
	}
	if o.EpsilonMs != nil {
		c.Loop.Tolerance = time.Duration(*o.EpsilonMs * float64(time.Millisecond))
	}
	if o.Out != nil {
		c.Output.Path = *o.Out
	}
	if o.GatewayIP != nil {
		c.MQTT.Broker = mqtt.BrokerURL(*o.GatewayIP)
	}
	if o.KeyPath != nil {
		c.Telemetry.KeyPath = *o.KeyPath
	}
}
