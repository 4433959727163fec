package aegisrt

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("aegisrt: channel sink closed")

// TelemetryFunc receives every published summary.
type TelemetryFunc func(Telemetry) error

// NewCallbackSink adapts a TelemetryFunc into a TelemetrySink so callers can
// plug arbitrary functions without defining structs.
func NewCallbackSink(name string, fn TelemetryFunc) TelemetrySink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes summaries via a channel; it returns the sink, the
// read-only channel, and a close function the caller should invoke during
// shutdown. A full channel blocks the publish until its timeout expires.
func NewChannelSink(name string, buffer int) (TelemetrySink, <-chan Telemetry, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Telemetry, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   TelemetryFunc
}

func (s *callbackSink) Publish(_ context.Context, out *Outbound) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if out == nil {
		return nil
	}
	return s.fn(telemetryFromOutbound(out))
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan Telemetry
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelSink) Publish(ctx context.Context, out *Outbound) error {
	if out == nil {
		return nil
	}
	// The read lock keeps close from racing a send on the channel.
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- telemetryFromOutbound(out):
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}
