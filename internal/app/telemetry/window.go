package telemetry

import (
	"time"

	"github.com/ghalamif/AegisRT/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of most recent observations summarised per tick.
const DefaultWindow = 10

// Window keeps the last N observations in arrival order.
type Window struct {
	buf  []domain.Observation
	head int
	size int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Window{buf: make([]domain.Observation, capacity)}
}

func (w *Window) Push(o domain.Observation) {
	w.buf[w.head] = o
	w.head = (w.head + 1) % len(w.buf)
	if w.size < len(w.buf) {
		w.size++
	}
}

func (w *Window) Len() int { return w.size }

func (w *Window) Cap() int { return len(w.buf) }

// Snapshot returns the retained observations, oldest first.
func (w *Window) Snapshot() []domain.Observation {
	out := make([]domain.Observation, 0, w.size)
	start := (w.head - w.size + len(w.buf)) % len(w.buf)
	for i := 0; i < w.size; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// Summarize aggregates the window. Mode, workload and CPU load come from the
// newest observation. ok is false when the window is empty.
func (w *Window) Summarize(at time.Time) (s domain.Summary, ok bool) {
	if w.size == 0 {
		return domain.Summary{}, false
	}
	obs := w.Snapshot()

	jitterMs := make([]float64, len(obs))
	misses := 0
	for i, o := range obs {
		jitterMs[i] = float64(o.JitterNs) / 1e6
		if o.Miss {
			misses++
		}
	}
	last := obs[len(obs)-1]

	return domain.Summary{
		Timestamp:    float64(at.UnixNano()) / 1e9,
		Mode:         last.Mode,
		JitterMeanMs: scalar.RoundEven(stat.Mean(jitterMs, nil), 3),
		JitterMaxMs:  scalar.RoundEven(floats.Max(jitterMs), 3),
		MissRatePct:  scalar.RoundEven(float64(misses)/float64(len(obs))*100, 2),
		Workload:     last.WorkloadRatio,
		CPULoad:      scalar.RoundEven(last.CPULoad, 1),
		Samples:      len(obs),
	}, true
}
