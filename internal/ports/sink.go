package ports

import (
	"context"

	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/pkg/integrity"
)

// Outbound is a single publish unit handed to every telemetry sink.
// Envelope and Payload stay nil when signing is off.
type Outbound struct {
	DeviceID string
	Summary  domain.Summary
	Envelope *integrity.Envelope
	Payload  []byte
}

// TelemetrySink delivers or archives one published telemetry unit.
type TelemetrySink interface {
	Publish(ctx context.Context, out *Outbound) error
	Name() string
}
