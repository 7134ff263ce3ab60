package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/infra/db/archive"
)

// Schema creates the archive table when it does not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS trade_analyses (
  id                    TEXT          PRIMARY KEY,
  parent_id             TEXT          NULL,
  hs_code               TEXT          NOT NULL,
  manufacturing_country CHAR(2)       NOT NULL,
  destination_country   CHAR(2)       NOT NULL,
  total_duty_percent    NUMERIC(9,4)  NOT NULL,
  duty_amount           NUMERIC(18,2) NOT NULL,
  risk_score            DOUBLE PRECISION NOT NULL,
  risk_band             TEXT          NOT NULL,
  record_json           JSONB         NOT NULL,
  created_at            TIMESTAMPTZ   NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_analyses_created ON trade_analyses (created_at DESC);`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

// AnalysisRepository archives analysis records in Postgres.
type AnalysisRepository struct{ db *sql.DB }

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository { return &AnalysisRepository{db: db} }

var _ analysis.Archive = (*AnalysisRepository)(nil)

// Save inserts the record; a replayed id is ignored.
func (r *AnalysisRepository) Save(ctx context.Context, rec *analysis.Record) error {
	const q = `
INSERT INTO trade_analyses
 (id, parent_id, hs_code, manufacturing_country, destination_country,
  total_duty_percent, duty_amount, risk_score, risk_band, record_json, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO NOTHING;`

	row, err := archive.NewRow(rec)
	if err != nil {
		return fmt.Errorf("postgres: encode analysis %s: %w", rec.ID, err)
	}
	_, err = r.db.ExecContext(ctx, q,
		row.ID, row.ParentID, row.HSCode, row.ManufacturingCountry, row.DestinationCountry,
		row.TotalDutyPercent, row.DutyAmount, row.RiskScore, row.RiskBand, row.RecordJSON, row.CreatedAt,
	)
	return err
}

func (r *AnalysisRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
