package aegisrt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AegisRT/internal/adapters/cpuload"
	"github.com/ghalamif/AegisRT/internal/adapters/csvlog"
	"github.com/ghalamif/AegisRT/internal/adapters/influx"
	"github.com/ghalamif/AegisRT/internal/adapters/journal"
	"github.com/ghalamif/AegisRT/internal/adapters/kafka"
	"github.com/ghalamif/AegisRT/internal/adapters/mqtt"
	"github.com/ghalamif/AegisRT/internal/adapters/objstore"
	"github.com/ghalamif/AegisRT/internal/adapters/observability"
	"github.com/ghalamif/AegisRT/internal/adapters/opcua"
	"github.com/ghalamif/AegisRT/internal/adapters/queue"
	"github.com/ghalamif/AegisRT/internal/adapters/sink"
	"github.com/ghalamif/AegisRT/internal/app/command"
	"github.com/ghalamif/AegisRT/internal/app/config"
	"github.com/ghalamif/AegisRT/internal/app/controller"
	"github.com/ghalamif/AegisRT/internal/app/loadmon"
	"github.com/ghalamif/AegisRT/internal/app/pipeline"
	"github.com/ghalamif/AegisRT/internal/app/scheduler"
	"github.com/ghalamif/AegisRT/internal/app/telemetry"
	"github.com/ghalamif/AegisRT/internal/app/workload"
	"github.com/ghalamif/AegisRT/internal/ports"
	"github.com/ghalamif/AegisRT/pkg/integrity"
)

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("aegisrt: runtime already started")

const (
	connectBackoffStart = time.Second
	connectBackoffMax   = 30 * time.Second
	shutdownTimeout     = 5 * time.Second
	uploadTimeout       = 2 * time.Minute
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	sinks    []TelemetrySink
	sources  []CommandSource
	probe    LoadProbe
	recorder Recorder
	obs      Observability
	logger   *slog.Logger
	key      []byte
}

// WithSink adds a telemetry sink next to the ones enabled in the config.
func WithSink(s TelemetrySink) RuntimeOption {
	return func(o *runtimeOverrides) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithCommandSource adds a source of mode-override payloads.
func WithCommandSource(src CommandSource) RuntimeOption {
	return func(o *runtimeOverrides) {
		if src != nil {
			o.sources = append(o.sources, src)
		}
	}
}

// WithLoadProbe replaces the /proc/stat CPU probe.
func WithLoadProbe(p LoadProbe) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.probe = p
	}
}

// WithRecorder replaces the file-backed measurement log.
func WithRecorder(r Recorder) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.recorder = r
	}
}

// WithObservability plugs in a custom metrics/logging backend. The metrics
// endpoint then serves the default Prometheus gatherer.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.obs = obs
	}
}

// WithLogger sets the slog logger behind the default observability backend.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithSigningKey supplies the HMAC key instead of reading telemetry.key_path.
func WithSigningKey(key []byte) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.key = append([]byte(nil), key...)
	}
}

// Runtime wires scheduler → controller → workload → recorder and the
// telemetry/command side around it, and owns their lifecycle for one run.
type Runtime struct {
	cfg      *Config
	runID    string
	obs      ports.Observability
	registry *prometheus.Registry
	ctrl     *controller.Controller
	probe    ports.LoadProbe
	recorder ports.Recorder
	signer   *integrity.Signer
	sinks    []ports.TelemetrySink
	sources  []ports.CommandSource
	mqtt     *mqtt.Client
	tsdb     *sink.TimescaleSink
	db       *sql.DB
	closers  []io.Closer
	uploader *objstore.Uploader

	metricsSrv *http.Server

	started   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	stats   Stats
	records uint64
}

// NewRuntime bootstraps the adapters enabled in cfg (CSV or journal log,
// /proc CPU probe, MQTT, Kafka, InfluxDB, TimescaleDB, OPC UA, object
// storage upload, Prometheus observability). Nothing connects until Run.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	r := &Runtime{
		cfg:      cfg,
		runID:    uuid.NewString(),
		ctrl:     controller.New(cfg.Controller.Profile),
		recorder: overrides.recorder,
	}

	r.obs = overrides.obs
	if r.obs == nil {
		logger := overrides.logger
		if logger == nil {
			l, err := observability.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return nil, fmt.Errorf("logging: %w", err)
			}
			logger = l
		}
		r.registry = prometheus.NewRegistry()
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		r.obs = observability.NewPromObs(r.registry, logger.With("run_id", r.runID))
	}

	r.probe = overrides.probe
	if r.probe == nil {
		p, err := cpuload.NewProcProbe("")
		if err != nil {
			r.obs.LogError("cpu probe unavailable, using fallback load", err,
				ports.Field{Key: "fallback", Value: cfg.Controller.FallbackLoad})
		} else {
			r.probe = p
		}
	}

	if cfg.Telemetry.Sign {
		key := overrides.key
		if key == nil {
			k, err := integrity.LoadKey(cfg.Telemetry.KeyPath)
			if err != nil {
				return nil, fmt.Errorf("telemetry.key_path: %w", err)
			}
			key = k
		}
		signer, err := integrity.NewSigner(cfg.DeviceID, key)
		if err != nil {
			return nil, err
		}
		r.signer = signer
	}

	if err := r.buildAdapters(); err != nil {
		_ = r.closeAdapters()
		return nil, err
	}
	r.sinks = append(r.sinks, overrides.sinks...)
	r.sources = append(r.sources, overrides.sources...)
	return r, nil
}

func (r *Runtime) buildAdapters() error {
	cfg := r.cfg

	if cfg.MQTT.Enabled() {
		c, err := mqtt.New(cfg.MQTT, r.obs)
		if err != nil {
			return err
		}
		r.mqtt = c
		r.sinks = append(r.sinks, c)
		r.sources = append(r.sources, c)
		r.closers = append(r.closers, c)
	}

	if cfg.Kafka.Enabled() {
		k, err := kafka.NewSink(cfg.Kafka)
		if err != nil {
			return err
		}
		r.sinks = append(r.sinks, k)
		r.closers = append(r.closers, k)
	}

	if cfg.Influx.Enabled() {
		s, err := influx.NewSink(cfg.Influx)
		if err != nil {
			return err
		}
		r.sinks = append(r.sinks, s)
		r.closers = append(r.closers, s)
	}

	if cfg.Timescale.Enabled() {
		db, err := sql.Open("postgres", cfg.Timescale.ConnString)
		if err != nil {
			return err
		}
		r.db = db
		r.closers = append(r.closers, db)
		ts, err := sink.NewTimescaleSink(db, cfg.Timescale.Table)
		if err != nil {
			return fmt.Errorf("timescale: %w", err)
		}
		r.tsdb = ts
		r.sinks = append(r.sinks, ts)
	}

	if cfg.OPCUA.Enabled() {
		src, err := opcua.NewCommandSource(cfg.OPCUA, r.obs)
		if err != nil {
			return err
		}
		r.sources = append(r.sources, src)
	}

	if cfg.Upload.Enabled() {
		u, err := objstore.NewUploader(cfg.Upload)
		if err != nil {
			return err
		}
		r.uploader = u
	}
	return nil
}

// RunID identifies this runtime in logs and uploaded object names.
func (r *Runtime) RunID() string { return r.runID }

// Controller exposes the mode state cell, e.g. to apply overrides directly.
func (r *Runtime) Controller() *controller.Controller { return r.ctrl }

// Stats reports the scheduler's totals. It is complete once Run returns.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Records counts cycles persisted to the measurement log.
func (r *Runtime) Records() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Run executes the loop for loop.duration or until ctx is cancelled, then
// tears everything down once: command sources, publisher, sinks, recorder,
// and finally the optional log upload. A measurement log write failure ends
// the loop and is returned.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	cfg := r.cfg

	rec := r.recorder
	if rec == nil {
		var err error
		rec, err = openRecorder(cfg.Output)
		if err != nil {
			return errors.Join(err, r.closeAdapters())
		}
	}

	monitor := loadmon.New(r.probe, cfg.Controller.FallbackLoad)
	monitor.Warmup()

	q := queue.NewMemQueue(cfg.Telemetry.QueueLen)
	pubOpts := []telemetry.Option{
		telemetry.WithSinks(r.sinks...),
		telemetry.WithObservability(r.obs),
	}
	if r.signer != nil {
		pubOpts = append(pubOpts, telemetry.WithSigner(r.signer))
	}
	pub, err := telemetry.NewPublisher(telemetry.Config{
		DeviceID:       cfg.DeviceID,
		Interval:       cfg.Telemetry.Interval,
		Window:         cfg.Telemetry.Window,
		PublishTimeout: cfg.Telemetry.PublishTimeout,
	}, q, pubOpts...)
	if err != nil {
		return errors.Join(err, rec.Close(), r.closeAdapters())
	}

	cycle := pipeline.NewCycle(monitor, r.ctrl, workload.Emulator{Period: cfg.Loop.Period}, r.obs)
	fanout := pipeline.NewFanout(rec, pub, r.obs)
	clock := scheduler.NewMonotonicClock()
	sched, err := scheduler.New(scheduler.Config{
		Period:    cfg.Loop.Period,
		Duration:  cfg.Loop.Duration,
		Tolerance: cfg.Loop.Tolerance,
	}, cycle.Work, fanout.Emit,
		scheduler.WithClock(clock),
		scheduler.WithWaiter(scheduler.NewHybridWaiter(clock, cfg.Loop.SpinThreshold, cfg.Loop.WakeMargin)),
	)
	if err != nil {
		return errors.Join(err, rec.Close(), r.closeAdapters())
	}

	r.prepareArchives(ctx)
	r.startSources(command.NewChannel(r.ctrl, r.obs))
	r.startMetrics()

	r.obs.LogInfo("run started",
		ports.Field{Key: "device_id", Value: cfg.DeviceID},
		ports.Field{Key: "period", Value: cfg.Loop.Period.String()},
		ports.Field{Key: "duration", Value: cfg.Loop.Duration.String()},
		ports.Field{Key: "tolerance", Value: cfg.Loop.Tolerance.String()},
		ports.Field{Key: "log", Value: rec.Path()},
		ports.Field{Key: "sinks", Value: len(r.sinks)},
		ports.Field{Key: "signed", Value: r.signer != nil},
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return pub.Run(gctx) })
	g.Go(func() error {
		r.recordQueueGauge(gctx, q, time.Second)
		return nil
	})
	if r.mqtt != nil {
		g.Go(func() error {
			if err := r.mqtt.ConnectWithBackoff(gctx, connectBackoffStart, connectBackoffMax); err != nil && gctx.Err() == nil {
				r.obs.LogError("mqtt unavailable", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		st, err := sched.Run(gctx)
		r.mu.Lock()
		r.stats = st
		r.mu.Unlock()
		r.stopSources()
		return err
	})

	runErr := g.Wait()
	return errors.Join(runErr, r.teardown(ctx, rec, fanout.Records()))
}

// Close releases adapters of a runtime that was never run. After Run it is
// a no-op.
func (r *Runtime) Close() error {
	if r == nil || r.started.Load() {
		return nil
	}
	return r.closeAdapters()
}

func openRecorder(out config.OutputConfig) (ports.Recorder, error) {
	switch out.Format {
	case config.FormatJournal:
		return journal.Create(out.Path, out.FlushEvery)
	default:
		return csvlog.Open(out.Path, out.FlushEvery)
	}
}

func (r *Runtime) prepareArchives(ctx context.Context) {
	if r.tsdb == nil || !r.cfg.Timescale.CreateTable {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := r.tsdb.EnsureSchema(sctx); err != nil {
		r.obs.LogError("timescale schema setup failed", err,
			ports.Field{Key: "table", Value: r.cfg.Timescale.Table})
	}
}

// startSources never fails the run: an unreachable command transport only
// means no overrides arrive.
func (r *Runtime) startSources(ch *command.Channel) {
	for _, src := range r.sources {
		if err := src.Start(ch.Deliver(src.Name())); err != nil {
			r.obs.LogError("command source unavailable", err, ports.Field{Key: "source", Value: src.Name()})
		}
	}
}

func (r *Runtime) stopSources() {
	for i := len(r.sources) - 1; i >= 0; i-- {
		if err := r.sources[i].Stop(); err != nil {
			r.obs.LogError("command source stop failed", err, ports.Field{Key: "source", Value: r.sources[i].Name()})
		}
	}
}

func (r *Runtime) startMetrics() {
	if r.cfg.Metrics.Addr == "" {
		return
	}
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if r.registry != nil {
		gatherer = r.registry
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := r.metricsSrv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics server exited", err, ports.Field{Key: "addr", Value: srv.Addr})
		}
	}()
}

func (r *Runtime) recordQueueGauge(ctx context.Context, q *queue.MemQueue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.obs.SetGauge(ports.MetricTelemetryQueueLen, float64(q.Len()))
		}
	}
}

// teardown returns only the measurement log close error. Transport and
// upload faults after the loop are logged.
func (r *Runtime) teardown(ctx context.Context, rec ports.Recorder, records uint64) error {
	r.mu.Lock()
	r.records = records
	st := r.stats
	r.mu.Unlock()

	if err := r.closeAdapters(); err != nil {
		r.obs.LogError("adapter close failed", err)
	}
	var closeErr error
	if err := rec.Close(); err != nil {
		closeErr = fmt.Errorf("close measurement log: %w", err)
	}
	if r.metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := r.metricsSrv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics server shutdown failed", err)
		}
		cancel()
	}

	r.obs.LogInfo(fmt.Sprintf("Done. %d iterations logged to %s", records, rec.Path()),
		ports.Field{Key: "misses", Value: st.Misses},
		ports.Field{Key: "elapsed", Value: st.Elapsed.String()},
	)

	if r.uploader != nil {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
		object, err := r.uploader.UploadLog(uctx, rec.Path(), r.cfg.DeviceID, r.runID)
		cancel()
		if err != nil {
			r.obs.LogError("log upload failed", err, ports.Field{Key: "path", Value: rec.Path()})
		} else {
			r.obs.LogInfo("log uploaded", ports.Field{Key: "object", Value: object})
		}
	}
	return closeErr
}

func (r *Runtime) closeAdapters() error {
	r.closeOnce.Do(func() {
		var errs []error
		for i := len(r.closers) - 1; i >= 0; i-- {
			if err := r.closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
