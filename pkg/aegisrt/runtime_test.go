package aegisrt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ghalamif/AegisRT/internal/adapters/csvlog"
	"github.com/ghalamif/AegisRT/pkg/integrity"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MQTT.Broker = ""
	cfg.Metrics.Addr = ""
	cfg.Loop.Period = 2 * time.Millisecond
	cfg.Loop.Duration = 150 * time.Millisecond
	cfg.Loop.Tolerance = time.Millisecond
	cfg.Telemetry.Interval = 5 * time.Millisecond
	cfg.Output.Path = filepath.Join(t.TempDir(), "run.csv")
	return cfg
}

func TestRuntimeRunWritesLogAndPublishes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t)
	obs := &stubObservability{}
	var (
		mu  sync.Mutex
		got []Telemetry
	)
	rt, err := NewRuntime(cfg,
		WithSigningKey(testKey),
		WithLoadProbe(&stubProbe{value: 90}),
		WithObservability(obs),
		WithSink(NewCallbackSink("test", func(tl Telemetry) error {
			mu.Lock()
			got = append(got, tl)
			mu.Unlock()
			return nil
		})),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	st := rt.Stats()
	if st.Cycles == 0 {
		t.Fatalf("expected cycles to run")
	}
	if rt.Records() != st.Cycles {
		t.Fatalf("expected %d records, got %d", st.Cycles, rt.Records())
	}

	var rows uint64
	err = csvlog.ReadFile(cfg.Output.Path, func(rec CycleRecord) error {
		if rec.Seq != rows {
			t.Fatalf("expected seq %d, got %d", rows, rec.Seq)
		}
		if rec.Mode != ModeDegraded || rec.WorkloadRatio != 0.3 {
			t.Fatalf("expected DEGRADED at ratio 0.3 under 90%% load, got %s %.1f", rec.Mode, rec.WorkloadRatio)
		}
		rows++
		return nil
	})
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if rows != st.Cycles {
		t.Fatalf("expected %d rows, got %d", st.Cycles, rows)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatalf("expected at least one telemetry publish")
	}
	first := got[0]
	if !first.Signed || first.DeviceID != cfg.DeviceID {
		t.Fatalf("unexpected telemetry %+v", first)
	}
	if err := integrity.Verify(testKey, first.Payload); err != nil {
		t.Fatalf("expected payload to verify, got %v", err)
	}
	if first.Summary.Mode != ModeDegraded {
		t.Fatalf("expected DEGRADED summary, got %s", first.Summary.Mode)
	}

	if !obs.logged("Done. ") {
		t.Fatalf("expected end-of-run summary line, got %v", obs.messages())
	}
}

func TestRuntimeStopsOnRecorderError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Sign = false
	diskErr := errors.New("no space left on device")
	rec := &failingRecorder{failAfter: 5, err: diskErr}

	rt, err := NewRuntime(cfg,
		WithRecorder(rec),
		WithLoadProbe(&stubProbe{value: 10}),
		WithObservability(&stubObservability{}),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	err = rt.Run(context.Background())
	if !errors.Is(err, diskErr) {
		t.Fatalf("expected disk error, got %v", err)
	}
	if !strings.Contains(err.Error(), "record cycle 5") {
		t.Fatalf("expected failing cycle in error, got %v", err)
	}
	if rt.Records() != 5 {
		t.Fatalf("expected 5 persisted records, got %d", rt.Records())
	}
	if !rec.closed {
		t.Fatalf("expected recorder to be closed on teardown")
	}
}

func TestRuntimeAppliesCommandOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Sign = false
	cfg.Loop.Duration = 40 * time.Millisecond
	src := &stubSource{payload: []byte(`{"Mode":"DEGRADED"}`)}

	rt, err := NewRuntime(cfg,
		WithCommandSource(src),
		WithLoadProbe(&stubProbe{value: 55}),
		WithObservability(&stubObservability{}),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !src.started || !src.stopped {
		t.Fatalf("expected source lifecycle, started=%v stopped=%v", src.started, src.stopped)
	}
	err = csvlog.ReadFile(cfg.Output.Path, func(rec CycleRecord) error {
		if rec.Mode != ModeDegraded {
			t.Fatalf("cycle %d: override should hold in the dead band, got %s", rec.Seq, rec.Mode)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
}

func TestRuntimeFixedProfileRealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("real-clock run")
	}
	cfg := testConfig(t)
	cfg.Telemetry.Sign = false
	cfg.Loop.Period = 20 * time.Millisecond
	cfg.Loop.Duration = time.Second
	cfg.Loop.Tolerance = 2 * time.Millisecond
	cfg.Controller.Fixed = true

	rt, err := NewRuntime(cfg,
		WithLoadProbe(&stubProbe{value: 95}),
		WithObservability(&stubObservability{}),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var rows uint64
	err = csvlog.ReadFile(cfg.Output.Path, func(rec CycleRecord) error {
		if rec.WorkloadRatio != 0.7 || rec.Mode != ModeNormal {
			t.Fatalf("cycle %d: expected NORMAL at 0.7, got %s %.2f", rec.Seq, rec.Mode, rec.WorkloadRatio)
		}
		rows++
		return nil
	})
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if rows < 40 || rows > 51 {
		t.Fatalf("expected about 50 rows, got %d", rows)
	}
	if rows != rt.Stats().Cycles {
		t.Fatalf("expected %d rows, got %d", rt.Stats().Cycles, rows)
	}
}

func TestRuntimeUploadFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied.</Message></Error>`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Telemetry.Sign = false
	cfg.Loop.Duration = 30 * time.Millisecond
	cfg.Upload.Endpoint = strings.TrimPrefix(srv.URL, "http://")
	cfg.Upload.Bucket = "runs"
	cfg.Upload.AccessKey = "key"
	cfg.Upload.SecretKey = "secret"
	obs := &stubObservability{}

	rt, err := NewRuntime(cfg, WithLoadProbe(&stubProbe{value: 10}), WithObservability(obs))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("expected upload failure to be logged only, got %v", err)
	}
	if rt.Records() == 0 || rt.Records() != rt.Stats().Cycles {
		t.Fatalf("expected a complete log, got %d records for %d cycles", rt.Records(), rt.Stats().Cycles)
	}
	if !obs.logged("error: log upload failed") {
		t.Fatalf("expected upload failure to be logged, got %v", obs.messages())
	}
}

func TestRuntimeRunOnlyOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Sign = false
	cfg.Loop.Duration = 10 * time.Millisecond
	rt, err := NewRuntime(cfg, WithLoadProbe(&stubProbe{value: 10}), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if err := rt.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestRuntimeCancelEndsEarly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Sign = false
	cfg.Loop.Duration = time.Hour
	rt, err := NewRuntime(cfg, WithLoadProbe(&stubProbe{value: 10}), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after cancellation")
	}
}

func TestNewRuntimeValidation(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}

	cfg := testConfig(t)
	cfg.Telemetry.KeyPath = filepath.Join(t.TempDir(), "missing.key")
	if _, err := NewRuntime(cfg, WithObservability(&stubObservability{})); err == nil {
		t.Fatalf("expected error for missing signing key")
	}

	cfg = testConfig(t)
	cfg.Loop.Period = 0
	if _, err := NewRuntime(cfg, WithObservability(&stubObservability{})); err == nil {
		t.Fatalf("expected error for zero period")
	}
}

type stubProbe struct {
	value float64
}

func (p *stubProbe) CPUPercent() (float64, error) { return p.value, nil }

type stubSource struct {
	payload []byte
	started bool
	stopped bool
}

func (s *stubSource) Start(deliver func([]byte)) error {
	s.started = true
	deliver(s.payload)
	return nil
}
func (s *stubSource) Stop() error {
	s.stopped = true
	return nil
}

func (s *stubSource) Name() string { return "stub" }

type failingRecorder struct {
	failAfter int
	err       error
	n         int
	closed    bool
}

func (r *failingRecorder) Record(CycleRecord) error {
	if r.n >= r.failAfter {
		return r.err
	}
	r.n++
	return nil
}
func (r *failingRecorder) Close() error {
	r.closed = true
	return nil
}

func (r *failingRecorder) Path() string { return "memory" }

type stubObservability struct {
	mu   sync.Mutex
	msgs []string
}

func (s *stubObservability) LogInfo(msg string, _ ...Field) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}
func (s *stubObservability) LogError(msg string, _ error, _ ...Field) {
	s.mu.Lock()
	s.msgs = append(s.msgs, "error: "+msg)
	s.mu.Unlock()
}
func (s *stubObservability) LogCritical(string, error, ...Field) {}
func (s *stubObservability) IncCounter(string, float64)          {}
func (s *stubObservability) ObserveLatency(string, float64)      {}
func (s *stubObservability) SetGauge(string, float64)            {}

func (s *stubObservability) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func (s *stubObservability) logged(prefix string) bool {
	for _, m := range s.messages() {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
