package workload

import "time"

// Burn spins on the monotonic clock until at least d has elapsed.
// It does not allocate, sleep, or touch I/O.
func Burn(d time.Duration) {
	if d <= 0 {
		return
	}
	start := time.Now()
	for time.Since(start) < d {
	}
}

// Emulator models per-cycle computational load as a fraction of the period.
type Emulator struct {
	Period time.Duration
}

// Run burns Period × ratio. Ratios outside [0,1] are clamped.
func (e Emulator) Run(ratio float64) time.Duration {
	d := e.Duration(ratio)
	Burn(d)
	return d
}

func (e Emulator) Duration(ratio float64) time.Duration {
	switch {
	case ratio <= 0:
		return 0
	case ratio > 1:
		ratio = 1
	}
	return time.Duration(float64(e.Period) * ratio)
}
