package influx

import (
	"context"
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ghalamif/AegisRT/internal/adapters/sink"
	"github.com/ghalamif/AegisRT/internal/ports"
)

const DefaultMeasurement = "rt_telemetry"

type Config struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

func (c Config) Enabled() bool { return c.URL != "" }

func (c Config) Validate() error {
	if c.Org == "" || c.Bucket == "" {
		return errors.New("org and bucket are required")
	}
	return nil
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink writes each summary as one point with blocking writes, so the
// publisher's per-publish timeout bounds it.
type Sink struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

func NewSink(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("influx: %w", err)
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: DefaultMeasurement,
	}, nil
}

func (s *Sink) Name() string { return "influxdb" }

func (s *Sink) Publish(ctx context.Context, out *ports.Outbound) error {
	if err := s.writer.WritePoint(ctx, BuildPoint(s.measurement, out)); err != nil {
		return fmt.Errorf("influx: write: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// BuildPoint tags by device and mode; every numeric summary value is a field.
func BuildPoint(measurement string, out *ports.Outbound) *write.Point {
	s := out.Summary
	tags := map[string]string{
		"device_id": out.DeviceID,
		"mode":      s.Mode.String(),
	}
	fields := map[string]interface{}{
		"jitter_mean_ms": s.JitterMeanMs,
		"jitter_max_ms":  s.JitterMaxMs,
		"miss_rate_pct":  s.MissRatePct,
		"workload":       s.Workload,
		"cpu_load":       s.CPULoad,
		"samples":        int64(s.Samples),
	}
	if out.Envelope != nil {
		fields["nonce"] = out.Envelope.Nonce
	}
	return write.NewPoint(measurement, tags, fields, sink.SummaryTime(s))
}

var _ ports.TelemetrySink = (*Sink)(nil)
