package aegisrt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func sampleOutbound() *Outbound {
	return &Outbound{
		DeviceID: "device1",
		Summary:  Summary{Timestamp: 1, Mode: ModeDegraded, JitterMeanMs: 0.5, MissRatePct: 10},
		Payload:  []byte(`{"timestamp":1}`),
	}
}

func TestNewCallbackSink(t *testing.T) {
	var received []Telemetry
	sink := NewCallbackSink("cb", func(tl Telemetry) error {
		received = append(received, tl)
		return nil
	})

	out := sampleOutbound()
	if err := sink.Publish(context.Background(), out); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 telemetry entry, got %d", len(received))
	}
	got := received[0]
	if got.DeviceID != out.DeviceID || got.Summary != out.Summary || got.Signed {
		t.Fatalf("mismatched telemetry: %+v vs %+v", got, out)
	}
	out.Payload[0] = 'X'
	if got.Payload[0] != '{' {
		t.Fatalf("expected payload to be copied")
	}
	if sink.Name() != "cb" {
		t.Fatalf("expected name cb, got %s", sink.Name())
	}
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	if err := sink.Publish(context.Background(), sampleOutbound()); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
	if sink.Name() != "callback" {
		t.Fatalf("expected default name, got %s", sink.Name())
	}
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 1)
	defer closeFn()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.Publish(context.Background(), sampleOutbound())
	}()

	var tl Telemetry
	select {
	case tl = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for telemetry")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if tl.Summary.Mode != ModeDegraded {
		t.Fatalf("unexpected telemetry: %+v", tl)
	}

	closeFn()
	if err := sink.Publish(context.Background(), sampleOutbound()); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
	}
}

func TestChannelSinkRespectsPublishTimeout(t *testing.T) {
	sink, _, closeFn := NewChannelSink("chan", 0)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := sink.Publish(ctx, sampleOutbound()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded with nobody reading, got %v", err)
	}
}
