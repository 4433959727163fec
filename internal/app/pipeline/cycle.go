package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/AegisRT/internal/app/controller"
	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
)

// LoadSampler is the slice of loadmon.Monitor a cycle needs.
type LoadSampler interface {
	Sample() float64
	Failures() uint64
}

// Burner performs the synthetic workload for a ratio of the period.
type Burner interface {
	Run(ratio float64) time.Duration
}

// Cycle is the per-cycle work: sample CPU load, let the controller decide,
// burn the chosen share of the period. It runs on the scheduler goroutine
// only and touches nothing but atomics outside the controller.
type Cycle struct {
	load  LoadSampler
	ctrl  *controller.Controller
	burn  Burner
	obs   ports.Observability
	fails uint64
	mode  domain.Mode
}

func NewCycle(load LoadSampler, ctrl *controller.Controller, burn Burner, obs ports.Observability) *Cycle {
	return &Cycle{load: load, ctrl: ctrl, burn: burn, obs: obs, mode: ctrl.Mode()}
}

func (c *Cycle) Work(_ context.Context, _ uint64) domain.CycleOutcome {
	load := c.load.Sample()
	if f := c.load.Failures(); f != c.fails {
		c.obs.IncCounter(ports.MetricLoadFallbacks, float64(f-c.fails))
		c.fails = f
	}

	mode, ratio := c.ctrl.Evaluate(load)
	if mode != c.mode {
		c.obs.IncCounter(ports.MetricModeSwitches, 1)
		c.mode = mode
	}

	c.burn.Run(ratio)
	return domain.CycleOutcome{WorkloadRatio: ratio, CPULoad: load, Mode: mode}
}
