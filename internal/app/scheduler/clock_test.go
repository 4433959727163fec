package scheduler

import (
	"testing"
	"time"
)

// steppingClock advances a little on every read, like a real clock being polled.
type steppingClock struct {
	now  int64
	step int64
}

func (c *steppingClock) Nanotime() int64 {
	v := c.now
	c.now += c.step
	return v
}

func TestHybridWaiterSleepsThenSpins(t *testing.T) {
	clock := &steppingClock{step: int64(10 * time.Microsecond)}
	w := NewHybridWaiter(clock, time.Millisecond, 500*time.Microsecond)

	var sleeps []time.Duration
	w.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
		clock.now += int64(d + 200*time.Microsecond)
	}

	deadline := int64(10 * time.Millisecond)
	w.WaitUntil(deadline)

	if len(sleeps) != 1 {
		t.Fatalf("expected a single coarse sleep, got %v", sleeps)
	}
	if sleeps[0] != 10*time.Millisecond-500*time.Microsecond {
		t.Fatalf("expected sleep of remaining minus margin, got %s", sleeps[0])
	}
	if clock.now < deadline {
		t.Fatalf("returned before deadline: now=%d", clock.now)
	}
	if clock.now > deadline+int64(50*time.Microsecond) {
		t.Fatalf("spun too long past deadline: now=%d", clock.now)
	}
}

func TestHybridWaiterSkipsPastDeadline(t *testing.T) {
	clock := &steppingClock{now: int64(5 * time.Millisecond)}
	w := NewHybridWaiter(clock, time.Millisecond, 500*time.Microsecond)
	w.sleep = func(d time.Duration) { t.Fatalf("unexpected sleep %s", d) }

	w.WaitUntil(int64(4 * time.Millisecond))
	w.WaitUntil(int64(5 * time.Millisecond))
}

func TestHybridWaiterShortWaitOnlySpins(t *testing.T) {
	clock := &steppingClock{step: int64(50 * time.Microsecond)}
	w := NewHybridWaiter(clock, time.Millisecond, 500*time.Microsecond)
	w.sleep = func(d time.Duration) { t.Fatalf("unexpected sleep %s for sub-threshold wait", d) }

	w.WaitUntil(int64(800 * time.Microsecond))
}

func TestNewHybridWaiterDefaults(t *testing.T) {
	w := NewHybridWaiter(NewMonotonicClock(), 0, 0)
	if w.spinThreshold != DefaultSpinThreshold {
		t.Fatalf("expected default spin threshold, got %s", w.spinThreshold)
	}
	if w.wakeMargin != DefaultSpinThreshold/2 {
		t.Fatalf("expected margin clamped to half threshold, got %s", w.wakeMargin)
	}
}

func TestHybridWaiterRealClock(t *testing.T) {
	clock := NewMonotonicClock()
	w := NewHybridWaiter(clock, DefaultSpinThreshold, DefaultWakeMargin)

	deadline := clock.Nanotime() + int64(5*time.Millisecond)
	w.WaitUntil(deadline)
	if now := clock.Nanotime(); now < deadline {
		t.Fatalf("returned %dns early", deadline-now)
	}
}
