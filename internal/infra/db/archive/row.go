// Package archive maps analysis records to the SQL archive row shared by the
// MySQL and Postgres repositories.
package archive

import (
	"encoding/json"
	"time"

	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
)

// Row is one line of the trade_analyses table. The full record is kept as
// JSON; the other columns exist for querying.
type Row struct {
	ID                   string
	ParentID             *string
	HSCode               string
	ManufacturingCountry string
	DestinationCountry   string
	TotalDutyPercent     string
	DutyAmount           string
	RiskScore            float64
	RiskBand             string
	RecordJSON           string
	CreatedAt            time.Time
}

// NewRow flattens r.
func NewRow(r *analysis.Record) (Row, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Row{}, err
	}
	row := Row{
		ID:                   string(r.ID),
		HSCode:               string(r.Tariff.HSCode),
		ManufacturingCountry: string(r.Parameters.ManufacturingCountry),
		DestinationCountry:   string(r.Parameters.DestinationCountry),
		TotalDutyPercent:     r.Tariff.TotalDutyPercent.String(),
		DutyAmount:           r.Tariff.DutyAmount.StringFixed(2),
		RiskScore:            r.Risk.Value,
		RiskBand:             string(r.Risk.Band),
		RecordJSON:           string(body),
		CreatedAt:            r.CreatedAt,
	}
	if r.ParentID != "" {
		p := string(r.ParentID)
		row.ParentID = &p
	}
	if row.HSCode == "" {
		row.HSCode = "-"
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row, nil
}
