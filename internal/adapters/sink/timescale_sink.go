package sink

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
)

const DefaultTable = "rt_telemetry"

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// TimescaleSink archives every published summary as one row.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) (*TimescaleSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTable.MatchString(table) {
		return nil, fmt.Errorf("timescale: invalid table name %q", table)
	}
	return &TimescaleSink{db: db, tableName: table}, nil
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

// EnsureSchema creates the archive table if it does not exist.
func (t *TimescaleSink) EnsureSchema(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+t.tableName+` (
	device_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	mode TEXT NOT NULL,
	jitter_mean_ms DOUBLE PRECISION,
	jitter_max_ms DOUBLE PRECISION,
	miss_rate_pct DOUBLE PRECISION,
	workload DOUBLE PRECISION,
	cpu_load DOUBLE PRECISION,
	nonce TEXT,
	hmac TEXT
)`)
	if err != nil {
		return fmt.Errorf("timescale: create table: %w", err)
	}
	return nil
}

func (t *TimescaleSink) Publish(ctx context.Context, out *ports.Outbound) error {
	s := out.Summary

	var nonce, tag sql.NullString
	if out.Envelope != nil {
		nonce = sql.NullString{String: out.Envelope.Nonce, Valid: true}
		tag = sql.NullString{String: out.Envelope.HMAC, Valid: true}
	}

	query := "INSERT INTO " + t.tableName +
		" (device_id, ts, mode, jitter_mean_ms, jitter_max_ms, miss_rate_pct, workload, cpu_load, nonce, hmac)" +
		" VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)"

	_, err := t.db.ExecContext(ctx, query,
		out.DeviceID,
		SummaryTime(s),
		s.Mode.String(),
		s.JitterMeanMs,
		s.JitterMaxMs,
		s.MissRatePct,
		s.Workload,
		s.CPULoad,
		nonce,
		tag,
	)
	if err != nil {
		return fmt.Errorf("timescale: insert: %w", err)
	}
	return nil
}

// SummaryTime converts the float seconds timestamp of a summary to UTC.
func SummaryTime(s domain.Summary) time.Time {
	sec, frac := math.Modf(s.Timestamp)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

var _ ports.TelemetrySink = (*TimescaleSink)(nil)
