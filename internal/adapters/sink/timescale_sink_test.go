package sink

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
	"github.com/ghalamif/AegisRT/pkg/integrity"
)

func TestTimescaleSinkPublishSigned(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, err := NewTimescaleSink(db, "rt_telemetry")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	out := &ports.Outbound{
		DeviceID: "device1",
		Summary: domain.Summary{
			Timestamp:    1700000000.25,
			Mode:         domain.ModeDegraded,
			JitterMeanMs: 1.5,
			JitterMaxMs:  4.25,
			MissRatePct:  10,
			Workload:     0.3,
			CPULoad:      81.3,
		},
		Envelope: &integrity.Envelope{Nonce: "deadbeef", HMAC: "ab"},
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO rt_telemetry (device_id, ts, mode, jitter_mean_ms, jitter_max_ms, miss_rate_pct, workload, cpu_load, nonce, hmac) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)")
	mock.ExpectExec(expectedQuery).
		WithArgs("device1", time.Unix(1700000000, 250_000_000).UTC(), "DEGRADED", 1.5, 4.25, 10.0, 0.3, 81.3,
			sql.NullString{String: "deadbeef", Valid: true}, sql.NullString{String: "ab", Valid: true}).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := sink.Publish(context.Background(), out); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkPublishUnsignedAndError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, _ := NewTimescaleSink(db, "")
	mock.ExpectExec("INSERT INTO rt_telemetry").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "NORMAL", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sql.NullString{}, sql.NullString{}).
		WillReturnError(errors.New("connection reset"))

	err = sink.Publish(context.Background(), &ports.Outbound{DeviceID: "d", Summary: domain.Summary{Mode: domain.ModeNormal}})
	if err == nil {
		t.Fatalf("expected insert error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, _ := NewTimescaleSink(db, "metrics.rt")
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS metrics.rt")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := sink.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkRejectsBadTable(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	if _, err := NewTimescaleSink(db, "x; DROP TABLE y"); err == nil {
		t.Fatalf("expected invalid table name to be rejected")
	}
}

func TestTimescaleSinkName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	sink, _ := NewTimescaleSink(db, "samples")
	if sink.Name() != "timescaledb" {
		t.Fatalf("expected sink name timescaledb, got %s", sink.Name())
	}
}
