package cpuload

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/AegisRT/internal/ports"
	"github.com/prometheus/procfs"
)

// ErrNoProgress is returned when two consecutive reads show no elapsed CPU time.
var ErrNoProgress = errors.New("cpuload: no cpu time elapsed between samples")

type statReader interface {
	Stat() (procfs.Stat, error)
}

// ProcProbe reports system-wide CPU utilisation from successive /proc/stat
// snapshots. The first call has no baseline and returns 0.
type ProcProbe struct {
	fs statReader

	mu   sync.Mutex
	prev *procfs.CPUStat
}

// NewProcProbe opens the proc filesystem at mountPoint ("" means /proc).
func NewProcProbe(mountPoint string) (*ProcProbe, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("cpuload: open %s: %w", mountPoint, err)
	}
	return &ProcProbe{fs: fs}, nil
}

func (p *ProcProbe) CPUPercent() (float64, error) {
	st, err := p.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("cpuload: read stat: %w", err)
	}
	cur := st.CPUTotal

	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.prev
	p.prev = &cur
	if prev == nil {
		return 0, nil
	}
	return Utilisation(*prev, cur)
}

// Utilisation is the busy share of CPU time between two snapshots, in percent.
func Utilisation(prev, cur procfs.CPUStat) (float64, error) {
	total := totalTime(cur) - totalTime(prev)
	if total <= 0 {
		return 0, ErrNoProgress
	}
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	busy := total - idle
	if busy < 0 {
		busy = 0
	}
	return busy / total * 100, nil
}

// Guest time is already accounted in User and Nice.
func totalTime(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}

var _ ports.LoadProbe = (*ProcProbe)(nil)
