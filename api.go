package aegisrt

import (
	base "github.com/ghalamif/AegisRT/pkg/aegisrt"
)

// Re-exported errors for convenience.
var (
	ErrAlreadyStarted    = base.ErrAlreadyStarted
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

const (
	ModeNormal    = base.ModeNormal
	ModeDegraded  = base.ModeDegraded
	FormatCSV     = base.FormatCSV
	FormatJournal = base.FormatJournal
)

// Type aliases so consumers can import github.com/ghalamif/AegisRT directly.
type (
	Config          = base.Config
	LoopConfig      = base.LoopConfig
	OutputConfig    = base.OutputConfig
	TelemetryConfig = base.TelemetryConfig
	MQTTConfig      = base.MQTTConfig
	KafkaConfig     = base.KafkaConfig
	InfluxConfig    = base.InfluxConfig
	TimescaleConfig = base.TimescaleConfig
	OPCUAConfig     = base.OPCUAConfig
	UploadConfig    = base.UploadConfig
	MetricsConfig   = base.MetricsConfig
	Overrides       = base.Overrides
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	InputOption     = base.InputOption
	OutputOption    = base.OutputOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Stats           = base.Stats
	Mode            = base.Mode
	CycleRecord     = base.CycleRecord
	Summary         = base.Summary
	Envelope        = base.Envelope
	Outbound        = base.Outbound
	Telemetry       = base.Telemetry
	TelemetryFunc   = base.TelemetryFunc
	TelemetrySink   = base.TelemetrySink
	CommandSource   = base.CommandSource
	LoadProbe       = base.LoadProbe
	Recorder        = base.Recorder
	Observability   = base.Observability
	Field           = base.Field
)

// Config helpers.
func DefaultConfig() *Config {
	return base.DefaultConfig()
}

func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func FromProbe(p LoadProbe) InputOption {
	return base.FromProbe(p)
}

func FromCommands(srcs ...CommandSource) InputOption {
	return base.FromCommands(srcs...)
}

func ToRecorder(rec Recorder) OutputOption {
	return base.ToRecorder(rec)
}

func ToSink(sinks ...TelemetrySink) OutputOption {
	return base.ToSink(sinks...)
}

func ToCallback(name string, fn TelemetryFunc) OutputOption {
	return base.ToCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSink(s TelemetrySink) RuntimeOption {
	return base.WithSink(s)
}

func WithCommandSource(src CommandSource) RuntimeOption {
	return base.WithCommandSource(src)
}

func WithLoadProbe(p LoadProbe) RuntimeOption {
	return base.WithLoadProbe(p)
}

func WithRecorder(r Recorder) RuntimeOption {
	return base.WithRecorder(r)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithSigningKey(key []byte) RuntimeOption {
	return base.WithSigningKey(key)
}

// Sink adapters.
func NewCallbackSink(name string, fn TelemetryFunc) TelemetrySink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (TelemetrySink, <-chan Telemetry, func()) {
	return base.NewChannelSink(name, buffer)
}
