package pgguias

import (
	"context"

	"github.com/pkg/errors"
)

// Timestamps are TEXT on purpose: the stored format (local-timezone
// "yyyy-MM-dd HH:mm:ss") is part of the data contract with the dashboard,
// carried over from the spreadsheet this store replaced. Same for history,
// which is the serialized JSON log column.
func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS guias (
  parcel_id TEXT PRIMARY KEY,
  id TEXT NOT NULL,
  created_at TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT '',
  origin_city TEXT NOT NULL DEFAULT '',
  destination_city TEXT NOT NULL DEFAULT '',
  delivered_to TEXT NOT NULL DEFAULT '',
  delivered_at TEXT NOT NULL DEFAULT '',
  last_updated_at TEXT NOT NULL,
  history TEXT NOT NULL DEFAULT '[]'
)`,
		`CREATE INDEX IF NOT EXISTS idx_guias_status ON guias(status)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
