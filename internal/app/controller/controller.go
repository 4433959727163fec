package controller

import (
	"fmt"
	"sync"

	"github.com/ghalamif/AegisRT/internal/domain"
)

// Profile holds the hysteresis thresholds and the workload ratio of each mode.
type Profile struct {
	HighThreshold float64 `yaml:"high_threshold"`
	LowThreshold  float64 `yaml:"low_threshold"`
	NormalRatio   float64 `yaml:"normal_ratio"`
	DegradedRatio float64 `yaml:"degraded_ratio"`
	// Fixed disables load-based evaluation; only overrides change the mode.
	Fixed bool `yaml:"fixed"`
}

func DefaultProfile() Profile {
	return Profile{
		HighThreshold: 70,
		LowThreshold:  40,
		NormalRatio:   0.7,
		DegradedRatio: 0.3,
	}
}

func (p Profile) Validate() error {
	if p.LowThreshold > p.HighThreshold {
		return fmt.Errorf("low_threshold %.1f must not exceed high_threshold %.1f", p.LowThreshold, p.HighThreshold)
	}
	if p.NormalRatio < 0 || p.NormalRatio > 1 {
		return fmt.Errorf("normal_ratio %.3f must be in [0,1]", p.NormalRatio)
	}
	if p.DegradedRatio < 0 || p.DegradedRatio > 1 {
		return fmt.Errorf("degraded_ratio %.3f must be in [0,1]", p.DegradedRatio)
	}
	return nil
}

// State is a consistent snapshot of the controller.
type State struct {
	Mode     domain.Mode
	LastLoad float64
}

// Controller is a two-state hysteresis machine. Evaluate runs on the
// scheduler goroutine and Override on a transport goroutine; both go
// through mu so a reader never sees a half-applied transition.
type Controller struct {
	profile Profile

	mu    sync.Mutex
	state State
}

func New(p Profile) *Controller {
	return &Controller{profile: p, state: State{Mode: domain.ModeNormal}}
}

// Evaluate applies the threshold rule to a fresh load sample and returns the
// resulting mode and the workload ratio to burn this cycle. Load above the
// high threshold forces DEGRADED, below the low threshold forces NORMAL, and
// anything in between keeps the current mode. A pending override is not
// protected: this evaluation wins.
func (c *Controller) Evaluate(load float64) (domain.Mode, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.LastLoad = load
	if !c.profile.Fixed {
		switch {
		case load > c.profile.HighThreshold:
			c.state.Mode = domain.ModeDegraded
		case load < c.profile.LowThreshold:
			c.state.Mode = domain.ModeNormal
		}
	}
	return c.state.Mode, c.ratioFor(c.state.Mode)
}

// Override sets the mode directly. It reports whether the mode changed.
func (c *Controller) Override(m domain.Mode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.state.Mode != m
	c.state.Mode = m
	return changed
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Mode() domain.Mode {
	return c.Snapshot().Mode
}

func (c *Controller) Profile() Profile { return c.profile }

func (c *Controller) ratioFor(m domain.Mode) float64 {
	if m == domain.ModeDegraded {
		return c.profile.DegradedRatio
	}
	return c.profile.NormalRatio
}
