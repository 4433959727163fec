// Package report summarizes a finished measurement log offline.
package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ghalamif/AegisRT/internal/domain"
)

// Summary describes a whole run.
type Summary struct {
	Cycles       int
	Misses       int
	MissRatePct  float64
	JitterMeanMs float64
	JitterP50Ms  float64
	JitterP99Ms  float64
	JitterMaxMs  float64
	CPUMean      float64
	ModeCycles   map[domain.Mode]int
	ModeSwitches int
	FirstSeq     uint64
	LastSeq      uint64
}

// Builder accumulates records in log order.
type Builder struct {
	jitterMs []float64
	cpu      []float64
	misses   int
	modes    map[domain.Mode]int
	switches int
	last     domain.Mode
	first    uint64
	lastSeq  uint64
}

func NewBuilder() *Builder {
	return &Builder{modes: make(map[domain.Mode]int)}
}

// Add matches the callback shape of the log readers.
func (b *Builder) Add(rec domain.CycleRecord) error {
	if len(b.jitterMs) == 0 {
		b.first = rec.Seq
	} else if rec.Mode != b.last {
		b.switches++
	}
	b.last = rec.Mode
	b.lastSeq = rec.Seq

	b.jitterMs = append(b.jitterMs, float64(rec.JitterNs)/1e6)
	b.cpu = append(b.cpu, rec.CPULoad)
	b.modes[rec.Mode]++
	if rec.Miss {
		b.misses++
	}
	return nil
}

// Summary returns false when no records were added.
func (b *Builder) Summary() (Summary, bool) {
	n := len(b.jitterMs)
	if n == 0 {
		return Summary{}, false
	}
	sorted := append([]float64(nil), b.jitterMs...)
	sort.Float64s(sorted)

	modes := make(map[domain.Mode]int, len(b.modes))
	for m, c := range b.modes {
		modes[m] = c
	}
	return Summary{
		Cycles:       n,
		Misses:       b.misses,
		MissRatePct:  100 * float64(b.misses) / float64(n),
		JitterMeanMs: stat.Mean(sorted, nil),
		JitterP50Ms:  stat.Quantile(0.50, stat.Empirical, sorted, nil),
		JitterP99Ms:  stat.Quantile(0.99, stat.Empirical, sorted, nil),
		JitterMaxMs:  floats.Max(sorted),
		CPUMean:      stat.Mean(b.cpu, nil),
		ModeCycles:   modes,
		ModeSwitches: b.switches,
		FirstSeq:     b.first,
		LastSeq:      b.lastSeq,
	}, true
}

// Build drains read into a Summary. read is csvlog.ReadFile or journal.ReadFile
// bound to a path.
func Build(read func(fn func(domain.CycleRecord) error) error) (Summary, error) {
	b := NewBuilder()
	if err := read(b.Add); err != nil {
		return Summary{}, err
	}
	s, ok := b.Summary()
	if !ok {
		return Summary{}, fmt.Errorf("report: log has no records")
	}
	return s, nil
}

// Write renders s as an aligned two-column table.
func Write(w io.Writer, source string, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "log\t%s\n", source)
	fmt.Fprintf(tw, "cycles\t%d (seq %d..%d)\n", s.Cycles, s.FirstSeq, s.LastSeq)
	fmt.Fprintf(tw, "misses\t%d (%.2f%%)\n", s.Misses, s.MissRatePct)
	fmt.Fprintf(tw, "jitter mean\t%.3f ms\n", s.JitterMeanMs)
	fmt.Fprintf(tw, "jitter p50\t%.3f ms\n", s.JitterP50Ms)
	fmt.Fprintf(tw, "jitter p99\t%.3f ms\n", s.JitterP99Ms)
	fmt.Fprintf(tw, "jitter max\t%.3f ms\n", s.JitterMaxMs)
	fmt.Fprintf(tw, "cpu mean\t%.1f %%\n", s.CPUMean)
	for _, m := range []domain.Mode{domain.ModeNormal, domain.ModeDegraded} {
		c := s.ModeCycles[m]
		fmt.Fprintf(tw, "mode %s\t%d (%.1f%%)\n", m, c, 100*float64(c)/float64(s.Cycles))
	}
	fmt.Fprintf(tw, "mode switches\t%d\n", s.ModeSwitches)
	return tw.Flush()
}
