package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/AegisRT/internal/app/throttle"
	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
	"github.com/ghalamif/AegisRT/pkg/integrity"
)

const (
	DefaultInterval       = 200 * time.Millisecond
	DefaultPublishTimeout = 150 * time.Millisecond
	DefaultQueueLen       = 1024
)

type Config struct {
	DeviceID       string
	Interval       time.Duration
	Window         int
	PublishTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
}

// Result describes what one tick did. Sink failures never escape a tick as
// an error; they are reported here per sink.
type Result struct {
	Published bool
	Skipped   bool
	Drained   int
	Outbound  *ports.Outbound
	SinkErrs  map[string]error
}

// Err joins the per-sink failures, or returns nil.
func (r Result) Err() error {
	if len(r.SinkErrs) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.SinkErrs))
	for name, err := range r.SinkErrs {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Publisher aggregates observations handed over by the scheduler and pushes
// a summary to every sink on a fixed interval, on its own goroutine.
type Publisher struct {
	cfg    Config
	queue  ports.ObservationQueue
	window *Window
	signer *integrity.Signer
	sinks  []ports.TelemetrySink
	obs    ports.Observability
	errLog *throttle.Logger
	now    func() time.Time
}

type Option func(*Publisher)

// WithSigner seals every summary in a signed envelope. Without it the bare
// summary is published.
func WithSigner(s *integrity.Signer) Option {
	return func(p *Publisher) { p.signer = s }
}

func WithSinks(sinks ...ports.TelemetrySink) Option {
	return func(p *Publisher) {
		for _, s := range sinks {
			if s != nil {
				p.sinks = append(p.sinks, s)
			}
		}
	}
}

func WithObservability(obs ports.Observability) Option {
	return func(p *Publisher) {
		if obs != nil {
			p.obs = obs
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPublisher(cfg Config, queue ports.ObservationQueue, opts ...Option) (*Publisher, error) {
	if queue == nil {
		return nil, errors.New("telemetry: observation queue is required")
	}
	cfg.applyDefaults()
	p := &Publisher{
		cfg:    cfg,
		queue:  queue,
		window: NewWindow(cfg.Window),
		obs:    nopObs{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.signer != nil && p.cfg.DeviceID == "" {
		p.cfg.DeviceID = p.signer.DeviceID()
	}
	p.errLog = throttle.New(p.obs, 5*time.Second, 3)
	return p, nil
}

// Observe hands one cycle's observation to the publisher. It never blocks;
// when the queue is full the observation is dropped and counted.
func (p *Publisher) Observe(o domain.Observation) {
	if !p.queue.Enqueue(o) {
		p.obs.IncCounter(ports.MetricTelemetryDropped, 1)
	}
}

// Run ticks until ctx is done. Publish failures are logged and never end
// the loop.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res := p.Tick(ctx)
			for name, err := range res.SinkErrs {
				p.errLog.Error("telemetry publish failed", err, ports.Field{Key: "sink", Value: name})
			}
		}
	}
}

// Tick drains pending observations into the window and publishes one summary.
func (p *Publisher) Tick(ctx context.Context) Result {
	var res Result

	pending := p.queue.Drain(0)
	for _, o := range pending {
		p.window.Push(o)
	}
	res.Drained = len(pending)
	p.obs.SetGauge(ports.MetricTelemetryQueueLen, float64(p.queue.Len()))

	summary, ok := p.window.Summarize(p.now())
	if !ok {
		res.Skipped = true
		p.obs.IncCounter(ports.MetricTelemetrySkipped, 1)
		return res
	}

	out, err := p.build(summary)
	if err != nil {
		res.SinkErrs = map[string]error{"encode": err}
		p.obs.IncCounter(ports.MetricTelemetryErrors, 1)
		return res
	}
	res.Outbound = out

	start := time.Now()
	for _, sink := range p.sinks {
		if err := p.publishOne(ctx, sink, out); err != nil {
			if res.SinkErrs == nil {
				res.SinkErrs = make(map[string]error)
			}
			res.SinkErrs[sink.Name()] = err
			p.obs.IncCounter(ports.MetricTelemetryErrors, 1)
		}
	}
	p.obs.ObserveLatency(ports.MetricPublishLatency, time.Since(start).Seconds())

	if len(res.SinkErrs) == 0 {
		res.Published = true
		p.obs.IncCounter(ports.MetricTelemetryPublish, 1)
	}
	return res
}

func (p *Publisher) publishOne(ctx context.Context, sink ports.TelemetrySink, out *ports.Outbound) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Publish(ctx, out)
}

func (p *Publisher) build(summary domain.Summary) (*ports.Outbound, error) {
	out := &ports.Outbound{DeviceID: p.cfg.DeviceID, Summary: summary}

	var body any = summary
	if p.signer != nil {
		env, err := p.signer.Seal(summary)
		if err != nil {
			return nil, err
		}
		out.Envelope = env
		body = env
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	out.Payload = payload
	return out, nil
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}
