package scheduler

import (
	"time"

	"github.com/ghalamif/AegisRT/internal/ports"
)

const (
	DefaultSpinThreshold = time.Millisecond
	DefaultWakeMargin    = 500 * time.Microsecond
)

// MonotonicClock reports nanoseconds since it was created, read from the
// runtime's monotonic clock.
type MonotonicClock struct {
	origin time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

func (c *MonotonicClock) Nanotime() int64 {
	return int64(time.Since(c.origin))
}

// HybridWaiter sleeps coarsely while the deadline is far away and busy-polls
// the clock for the last stretch. The sleep stops WakeMargin short of the
// deadline so that wake-up latency lands inside the spin window.
type HybridWaiter struct {
	clock         ports.Clock
	spinThreshold time.Duration
	wakeMargin    time.Duration
	sleep         func(time.Duration)
}

func NewHybridWaiter(clock ports.Clock, spinThreshold, wakeMargin time.Duration) *HybridWaiter {
	if spinThreshold <= 0 {
		spinThreshold = DefaultSpinThreshold
	}
	if wakeMargin <= 0 || wakeMargin >= spinThreshold {
		wakeMargin = spinThreshold / 2
	}
	return &HybridWaiter{
		clock:         clock,
		spinThreshold: spinThreshold,
		wakeMargin:    wakeMargin,
		sleep:         time.Sleep,
	}
}

// WaitUntil returns immediately when the deadline has already passed.
func (w *HybridWaiter) WaitUntil(deadline int64) {
	for {
		remaining := time.Duration(deadline - w.clock.Nanotime())
		if remaining <= 0 {
			return
		}
		if remaining > w.spinThreshold {
			w.sleep(remaining - w.wakeMargin)
		}
	}
}

var (
	_ ports.Clock  = (*MonotonicClock)(nil)
	_ ports.Waiter = (*HybridWaiter)(nil)
)
