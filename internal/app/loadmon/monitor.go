package loadmon

import (
	"math"

	"github.com/ghalamif/AegisRT/internal/ports"
)

// DefaultFallback is reported whenever the probe is missing or fails.
const DefaultFallback = 25.0

// Monitor turns a LoadProbe into a best-effort percentage that never fails.
type Monitor struct {
	probe    ports.LoadProbe
	fallback float64
	failures uint64
}

// New wraps probe. A nil probe makes every sample the fallback value.
func New(probe ports.LoadProbe, fallback float64) *Monitor {
	return &Monitor{probe: probe, fallback: clamp(fallback)}
}

// Warmup takes the baseline reading and discards it. Delta-based probes
// have nothing to compare against on their first call.
func (m *Monitor) Warmup() {
	if m.probe != nil {
		_, _ = m.probe.CPUPercent()
	}
}

// Sample returns the current load in [0,100].
func (m *Monitor) Sample() float64 {
	if m.probe == nil {
		return m.fallback
	}
	v, err := m.probe.CPUPercent()
	if err != nil || math.IsNaN(v) {
		m.failures++
		return m.fallback
	}
	return clamp(v)
}

// Failures counts samples that fell back. Only the scheduler goroutine calls Sample.
func (m *Monitor) Failures() uint64 { return m.failures }

func (m *Monitor) Available() bool { return m.probe != nil }

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
