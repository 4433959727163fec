package aegisrt

import (
	"github.com/ghalamif/AegisRT/internal/app/scheduler"
	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
	"github.com/ghalamif/AegisRT/pkg/integrity"
)

// Mode is the workload profile the loop runs in.
type Mode = domain.Mode

const (
	ModeNormal   = domain.ModeNormal
	ModeDegraded = domain.ModeDegraded
)

// CycleRecord is one row of the measurement log.
type CycleRecord = domain.CycleRecord

// Summary is the aggregated telemetry body.
type Summary = domain.Summary

// Envelope is the signed wrapper put on the wire.
type Envelope = integrity.Envelope

// Outbound is what every TelemetrySink receives on each publish tick.
type Outbound = ports.Outbound

// TelemetrySink delivers or archives telemetry summaries (MQTT, Kafka, HTTP, files, etc.).
type TelemetrySink = ports.TelemetrySink

// CommandSource feeds raw mode-override payloads into the runtime.
type CommandSource = ports.CommandSource

// LoadProbe reports host CPU utilisation in percent.
type LoadProbe = ports.LoadProbe

// Recorder persists every cycle record. A Record error ends the run.
type Recorder = ports.Recorder

// Observability emits metrics and structured logs about the loop.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Stats is what the scheduler reports once the loop ends.
type Stats = scheduler.Stats

// Telemetry is the caller-facing copy of one published summary.
type Telemetry struct {
	DeviceID string
	Summary  Summary
	Signed   bool
	Payload  []byte
}

func telemetryFromOutbound(out *Outbound) Telemetry {
	t := Telemetry{
		DeviceID: out.DeviceID,
		Summary:  out.Summary,
		Signed:   out.Envelope != nil,
	}
	if len(out.Payload) > 0 {
		t.Payload = append([]byte(nil), out.Payload...)
	}
	return t
}
