package pipeline

import (
	"fmt"

	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
)

// Observer receives the telemetry slice of every record without blocking.
type Observer interface {
	Observe(o domain.Observation)
}

// Fanout persists each record first, then hands it to telemetry and metrics.
// A persistence failure is returned and ends the run; nothing downstream
// sees a record that was not written.
type Fanout struct {
	rec     ports.Recorder
	pub     Observer
	obs     ports.Observability
	records uint64
}

// NewFanout wires the recorder to an optional telemetry observer.
func NewFanout(rec ports.Recorder, pub Observer, obs ports.Observability) *Fanout {
	return &Fanout{rec: rec, pub: pub, obs: obs}
}

func (f *Fanout) Emit(rec domain.CycleRecord) error {
	if err := f.rec.Record(rec); err != nil {
		f.obs.LogCritical("measurement log write failed", err,
			ports.Field{Key: "seq", Value: rec.Seq},
			ports.Field{Key: "path", Value: f.rec.Path()},
		)
		return fmt.Errorf("persist: %w", err)
	}
	f.records++

	if f.pub != nil {
		f.pub.Observe(rec.Observation())
	}

	f.obs.IncCounter(ports.MetricCycles, 1)
	if rec.Miss {
		f.obs.IncCounter(ports.MetricDeadlineMisses, 1)
	}
	f.obs.ObserveLatency(ports.MetricCycleJitter, float64(rec.JitterNs)/1e9)
	f.obs.SetGauge(ports.MetricCPULoad, rec.CPULoad)
	f.obs.SetGauge(ports.MetricWorkloadRatio, rec.WorkloadRatio)
	f.obs.SetGauge(ports.MetricMode, float64(rec.Mode))
	return nil
}

// Records counts successfully persisted records.
func (f *Fanout) Records() uint64 { return f.records }
