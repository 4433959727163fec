package observability

import (
	"context"
	"log/slog"

	"github.com/ghalamif/AegisRT/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
)

type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the runtime's collectors with reg. A nil reg uses the
// default registerer; a nil logger uses slog.Default.
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		ports.MetricCycles:           counter(ports.MetricCycles, "Cycles completed by the scheduler."),
		ports.MetricDeadlineMisses:   counter(ports.MetricDeadlineMisses, "Cycles whose delta exceeded period plus tolerance."),
		ports.MetricModeSwitches:     counter(ports.MetricModeSwitches, "Transitions between NORMAL and DEGRADED."),
		ports.MetricLoadFallbacks:    counter(ports.MetricLoadFallbacks, "CPU samples replaced by the fallback value."),
		ports.MetricTelemetryPublish: counter(ports.MetricTelemetryPublish, "Telemetry summaries delivered to all sinks."),
		ports.MetricTelemetrySkipped: counter(ports.MetricTelemetrySkipped, "Ticks skipped because the window was empty."),
		ports.MetricTelemetryDropped: counter(ports.MetricTelemetryDropped, "Observations dropped because the hand-off queue was full."),
		ports.MetricTelemetryErrors:  counter(ports.MetricTelemetryErrors, "Per-sink telemetry publish failures."),
		ports.MetricCommandsApplied:  counter(ports.MetricCommandsApplied, "Mode override commands applied."),
		ports.MetricCommandsRejected: counter(ports.MetricCommandsRejected, "Malformed or unknown commands rejected."),
	}
	gauges := map[string]prometheus.Gauge{
		ports.MetricCPULoad:           gauge(ports.MetricCPULoad, "Last sampled host CPU load."),
		ports.MetricWorkloadRatio:     gauge(ports.MetricWorkloadRatio, "Workload ratio applied in the last cycle."),
		ports.MetricMode:              gauge(ports.MetricMode, "Current mode (0 NORMAL, 1 DEGRADED)."),
		ports.MetricTelemetryQueueLen: gauge(ports.MetricTelemetryQueueLen, "Observations waiting for the publisher."),
	}
	jitter := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricCycleJitter,
		Help:    "Absolute deviation of each cycle from the nominal period.",
		Buckets: prometheus.ExponentialBuckets(0.000001, 2, 18),
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricPublishLatency,
		Help:    "Time spent fanning one summary out to all sinks.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	collectors := []prometheus.Collector{jitter, latency}
	for _, c := range counters {
		collectors = append(collectors, c)
	}
	for _, g := range gauges {
		collectors = append(collectors, g)
	}
	reg.MustRegister(collectors...)

	return &PromObs{
		log:      logger,
		counters: counters,
		gauges:   gauges,
		histos: map[string]prometheus.Observer{
			ports.MetricCycleJitter:    jitter,
			ports.MetricPublishLatency: latency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Log(context.Background(), LevelCritical, msg, append(attrs(fields), slog.Any("err", err))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
