package aegisrt

import (
	"context"
	"errors"
	"fmt"
)

// Flow builds a Runtime in the order the loop meets its collaborators:
// configuration first, then what the loop reads (the load probe and command
// sources), then where finished cycles go (the measurement log and the
// telemetry sinks).
//
//	flow, _ := aegisrt.Conf("config.yaml")
//	err := flow.StreamIN(aegisrt.FromProbe(p)).Run(ctx, aegisrt.ToCallback("ui", fn))
type Flow struct {
	cfg    *Config
	shared []RuntimeOption
	in     input
	out    output
}

// FlowOption adjusts a Flow right after its configuration is loaded.
type FlowOption func(*Flow)

// InputOption selects what the loop samples each cycle and where mode
// commands arrive from.
type InputOption func(*input)

// OutputOption selects where records and telemetry summaries are written.
type OutputOption func(*output)

type input struct {
	probe   LoadProbe
	sources []CommandSource
}

type output struct {
	recorder Recorder
	sinks    []TelemetrySink
	errs     []error
}

func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// WithFlowOptions passes RuntimeOption values straight through to NewRuntime.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) { f.shared = appendNonNil(f.shared, opts...) }
}

// Config exposes the loaded configuration for edits before the runtime is built.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Observe routes logs and metrics to obs instead of the built-in
// slog/Prometheus backend.
func (f *Flow) Observe(obs Observability) *Flow {
	if f != nil && obs != nil {
		f.shared = append(f.shared, WithObservability(obs))
	}
	return f
}

// StreamIN sets the input side. A later probe replaces an earlier one;
// command sources accumulate.
func (f *Flow) StreamIN(opts ...InputOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&f.in)
		}
	}
	return f
}

// StreamOUT sets the output side and builds the Runtime.
func (f *Flow) StreamOUT(opts ...OutputOption) (*Runtime, error) {
	if f == nil {
		return nil, errors.New("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&f.out)
		}
	}
	if err := errors.Join(f.out.errs...); err != nil {
		return nil, err
	}
	return NewRuntime(f.cfg, f.runtimeOptions()...)
}

// Run builds the Runtime with StreamOUT and runs it to completion.
func (f *Flow) Run(ctx context.Context, opts ...OutputOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func (f *Flow) runtimeOptions() []RuntimeOption {
	opts := append([]RuntimeOption(nil), f.shared...)
	if f.in.probe != nil {
		opts = append(opts, WithLoadProbe(f.in.probe))
	}
	for _, src := range f.in.sources {
		opts = append(opts, WithCommandSource(src))
	}
	if f.out.recorder != nil {
		opts = append(opts, WithRecorder(f.out.recorder))
	}
	for _, s := range f.out.sinks {
		opts = append(opts, WithSink(s))
	}
	return opts
}

// FromProbe replaces the /proc/stat CPU probe, e.g. with a cgroup reader or
// a simulator.
func FromProbe(p LoadProbe) InputOption {
	return func(in *input) {
		if p != nil {
			in.probe = p
		}
	}
}

// FromCommands adds transports that deliver mode overrides.
func FromCommands(srcs ...CommandSource) InputOption {
	return func(in *input) {
		for _, src := range srcs {
			if src != nil {
				in.sources = append(in.sources, src)
			}
		}
	}
}

// ToRecorder replaces the file-backed measurement log.
func ToRecorder(rec Recorder) OutputOption {
	return func(out *output) {
		if rec != nil {
			out.recorder = rec
		}
	}
}

// ToSink adds telemetry sinks next to the configured transports.
func ToSink(sinks ...TelemetrySink) OutputOption {
	return func(out *output) {
		for _, s := range sinks {
			if s != nil {
				out.sinks = append(out.sinks, s)
			}
		}
	}
}

// ToCallback adds a sink that hands each summary to fn.
func ToCallback(name string, fn TelemetryFunc) OutputOption {
	return func(out *output) {
		if fn == nil {
			out.errs = append(out.errs, fmt.Errorf("callback sink %q: handler is required", name))
			return
		}
		out.sinks = append(out.sinks, NewCallbackSink(name, fn))
	}
}

func appendNonNil(dst []RuntimeOption, opts ...RuntimeOption) []RuntimeOption {
	for _, opt := range opts {
		if opt != nil {
			dst = append(dst, opt)
		}
	}
	return dst
}
