package mysql

import (
	"context"
	"database/sql"
)

// Schema creates the archive table when it does not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS trade_analyses (
  id                    VARCHAR(36)   NOT NULL PRIMARY KEY,
  parent_id             VARCHAR(36)   NULL,
  hs_code               VARCHAR(16)   NOT NULL,
  manufacturing_country CHAR(2)       NOT NULL,
  destination_country   CHAR(2)       NOT NULL,
  total_duty_percent    DECIMAL(9,4)  NOT NULL,
  duty_amount           DECIMAL(18,2) NOT NULL,
  risk_score            DOUBLE        NOT NULL,
  risk_band             VARCHAR(8)    NOT NULL,
  record_json           JSON          NOT NULL,
  created_at            DATETIME(6)   NOT NULL,
  INDEX idx_trade_analyses_created (created_at),
  INDEX idx_trade_analyses_lane (manufacturing_country, destination_country)
)`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
