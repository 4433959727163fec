// Package throttle rate-limits repetitive error logs so a flapping broker or
// a noisy command publisher cannot flood the process log.
package throttle

import (
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisRT/internal/ports"
	"golang.org/x/time/rate"
)

type Logger struct {
	obs        ports.Observability
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// New allows one log line per every, with a burst of burst.
func New(obs ports.Observability, every time.Duration, burst int) *Logger {
	if burst < 1 {
		burst = 1
	}
	return &Logger{obs: obs, lim: rate.NewLimiter(rate.Every(every), burst)}
}

// Error logs err unless the limiter is exhausted. The first line after a
// quiet period carries the number of suppressed lines. It reports whether
// the line was written.
func (l *Logger) Error(msg string, err error, fields ...ports.Field) bool {
	if l == nil || l.obs == nil {
		return false
	}
	if !l.lim.Allow() {
		l.suppressed.Add(1)
		return false
	}
	if n := l.suppressed.Swap(0); n > 0 {
		fields = append(fields, ports.Field{Key: "suppressed", Value: n})
	}
	l.obs.LogError(msg, err, fields...)
	return true
}

// Suppressed reports lines dropped since the last written one.
func (l *Logger) Suppressed() uint64 {
	return l.suppressed.Load()
}
