package command

import (
	"errors"
	"testing"

	"github.com/ghalamif/AegisRT/internal/app/controller"
	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
)

type recordingObs struct {
	counters map[string]float64
	errors   int
	infos    int
}

func newRecordingObs() *recordingObs { return &recordingObs{counters: map[string]float64{}} }

func (r *recordingObs) LogInfo(string, ...ports.Field)            { r.infos++ }
func (r *recordingObs) LogError(string, error, ...ports.Field)    { r.errors++ }
func (r *recordingObs) LogCritical(string, error, ...ports.Field) {}
func (r *recordingObs) IncCounter(name string, v float64)         { r.counters[name] += v }
func (r *recordingObs) ObserveLatency(string, float64)            {}
func (r *recordingObs) SetGauge(string, float64)                  {}

func TestHandleAppliesOverride(t *testing.T) {
	ctrl := controller.New(controller.DefaultProfile())
	obs := newRecordingObs()
	ch := NewChannel(ctrl, obs)

	if err := ch.Handle("mqtt", []byte(`{"Mode":"DEGRADED"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if ctrl.Mode() != domain.ModeDegraded {
		t.Fatalf("expected DEGRADED after override, got %s", ctrl.Mode())
	}
	if obs.counters[ports.MetricCommandsApplied] != 1 {
		t.Fatalf("expected applied counter 1, got %v", obs.counters)
	}

	// The next evaluation is free to undo the override.
	if m, _ := ctrl.Evaluate(10); m != domain.ModeNormal {
		t.Fatalf("expected low load to restore NORMAL, got %s", m)
	}
}

func TestHandleIgnoresExtraKeys(t *testing.T) {
	ctrl := controller.New(controller.DefaultProfile())
	ch := NewChannel(ctrl, newRecordingObs())

	if err := ch.Handle("mqtt", []byte(`{"Mode":"DEGRADED","by":"operator","ts":1}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if ctrl.Mode() != domain.ModeDegraded {
		t.Fatalf("expected override applied")
	}
}

func TestHandleRejectsInvalidPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `Mode=DEGRADED`, ErrMalformed},
		{"array", `["DEGRADED"]`, ErrMalformed},
		{"null", `null`, ErrMalformed},
		{"lowercase key", `{"mode":"DEGRADED"}`, ErrMissingMode},
		{"empty object", `{}`, ErrMissingMode},
		{"unknown mode", `{"Mode":"TURBO"}`, ErrBadMode},
		{"lowercase mode", `{"Mode":"degraded"}`, ErrBadMode},
		{"number", `{"Mode":1}`, ErrBadMode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := controller.New(controller.DefaultProfile())
			obs := newRecordingObs()
			ch := NewChannel(ctrl, obs)

			err := ch.Handle("mqtt", []byte(tc.payload))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if ctrl.Mode() != domain.ModeNormal {
				t.Fatalf("controller must be untouched, got %s", ctrl.Mode())
			}
			if obs.counters[ports.MetricCommandsRejected] != 1 {
				t.Fatalf("expected rejection counted, got %v", obs.counters)
			}
			if obs.errors != 1 {
				t.Fatalf("expected one error log, got %d", obs.errors)
			}
		})
	}
}

func TestDeliverSwallowsErrors(t *testing.T) {
	ctrl := controller.New(controller.DefaultProfile())
	obs := newRecordingObs()
	deliver := NewChannel(ctrl, obs).Deliver("opcua")

	deliver([]byte(`garbage`))
	deliver([]byte(`{"Mode":"DEGRADED"}`))

	if ctrl.Mode() != domain.ModeDegraded {
		t.Fatalf("expected valid command after a bad one to apply")
	}
	if obs.counters[ports.MetricCommandsRejected] != 1 || obs.counters[ports.MetricCommandsApplied] != 1 {
		t.Fatalf("unexpected counters %v", obs.counters)
	}
}
