package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
)

// Config fixes the cadence of a run.
type Config struct {
	Period    time.Duration
	Duration  time.Duration
	Tolerance time.Duration
}

func (c Config) Validate() error {
	if c.Period <= 0 {
		return errors.New("period must be > 0")
	}
	if c.Duration <= 0 {
		return errors.New("duration must be > 0")
	}
	if c.Tolerance < 0 {
		return errors.New("tolerance must be >= 0")
	}
	return nil
}

// CycleFunc performs one cycle's work and reports what it applied.
type CycleFunc func(ctx context.Context, seq uint64) domain.CycleOutcome

// EmitFunc receives every cycle record. A non-nil error stops the run.
type EmitFunc func(rec domain.CycleRecord) error

// Stats summarises a finished run.
type Stats struct {
	Cycles  uint64
	Misses  uint64
	Elapsed time.Duration
}

type Scheduler struct {
	cfg    Config
	clock  ports.Clock
	waiter ports.Waiter
	work   CycleFunc
	emit   EmitFunc
}

type Option func(*Scheduler)

func WithClock(c ports.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithWaiter(w ports.Waiter) Option {
	return func(s *Scheduler) {
		if w != nil {
			s.waiter = w
		}
	}
}

func New(cfg Config, work CycleFunc, emit EmitFunc, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if work == nil {
		return nil, errors.New("cycle work is required")
	}
	if emit == nil {
		return nil, errors.New("record emitter is required")
	}
	s := &Scheduler{cfg: cfg, work: work, emit: emit}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.clock == nil {
		s.clock = NewMonotonicClock()
	}
	if s.waiter == nil {
		s.waiter = NewHybridWaiter(s.clock, DefaultSpinThreshold, DefaultWakeMargin)
	}
	return s, nil
}

// Run executes cycles until the configured duration has elapsed or ctx is
// cancelled. Cycle k is scheduled at start + k·Period; the deadline
// accumulator never absorbs observed deltas, so lateness does not drift the
// schedule. Overrunning cycles skip the wait and are flagged as misses;
// they are not retried. Only an emit error ends the run early.
func (s *Scheduler) Run(ctx context.Context) (Stats, error) {
	var (
		st     Stats
		period = int64(s.cfg.Period)
		tol    = int64(s.cfg.Tolerance)
		start  = s.clock.Nanotime()
		end    = start + int64(s.cfg.Duration)
		prev   = start
		next   = start
	)

	for seq := uint64(0); ; seq++ {
		if s.clock.Nanotime() >= end || ctx.Err() != nil {
			break
		}

		out := s.work(ctx, seq)

		now := s.clock.Nanotime()
		delta := now - prev
		rec := domain.CycleRecord{
			Seq:           seq,
			CycleTimeNs:   now,
			DeltaNs:       delta,
			JitterNs:      Jitter(delta, period),
			Miss:          IsMiss(delta, period, tol),
			WorkloadRatio: out.WorkloadRatio,
			CPULoad:       out.CPULoad,
			Mode:          out.Mode,
		}
		if err := s.emit(rec); err != nil {
			st.Elapsed = time.Duration(s.clock.Nanotime() - start)
			return st, fmt.Errorf("record cycle %d: %w", seq, err)
		}
		st.Cycles++
		if rec.Miss {
			st.Misses++
		}

		prev = now
		next += period
		s.waiter.WaitUntil(next)
	}

	st.Elapsed = time.Duration(s.clock.Nanotime() - start)
	return st, nil
}

// Jitter is the absolute deviation of delta from the nominal period.
func Jitter(delta, period int64) uint64 {
	d := delta - period
	if d < 0 {
		return uint64(-d)
	}
	return uint64(d)
}

// IsMiss reports whether delta exceeded the period by more than tolerance.
func IsMiss(delta, period, tolerance int64) bool {
	return delta > period+tolerance
}

// Deadline is the nominal start of cycle k.
func Deadline(start int64, k uint64, period int64) int64 {
	return start + int64(k)*period
}
