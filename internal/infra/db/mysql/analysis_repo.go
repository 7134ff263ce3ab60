package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/infra/db/archive"
)

// AnalysisRepository archives analysis records in MySQL.
type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

var _ analysis.Archive = (*AnalysisRepository)(nil)

// Save inserts the record. Records are immutable, so a replayed id is a no-op.
func (r *AnalysisRepository) Save(ctx context.Context, rec *analysis.Record) error {
	const q = `
INSERT INTO trade_analyses
  (id, parent_id, hs_code, manufacturing_country, destination_country,
   total_duty_percent, duty_amount, risk_score, risk_band, record_json, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE id=id;
`
	row, err := archive.NewRow(rec)
	if err != nil {
		return fmt.Errorf("mysql: encode analysis %s: %w", rec.ID, err)
	}
	_, err = r.db.ExecContext(ctx, q,
		row.ID, row.ParentID, row.HSCode, row.ManufacturingCountry, row.DestinationCountry,
		row.TotalDutyPercent, row.DutyAmount, row.RiskScore, row.RiskBand, row.RecordJSON, row.CreatedAt,
	)
	return err
}

// Ping is used by the health checker.
func (r *AnalysisRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
