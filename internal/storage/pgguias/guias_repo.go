package pgguias

import (
	"context"

	"guiatrack/internal/history"
	"guiatrack/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const guiaColumns = `
  id, parcel_id, created_at,
  status, origin_city, destination_city,
  delivered_to, delivered_at,
  last_updated_at, history
`

func (s *Storage) GetAll(ctx context.Context) ([]*models.Guia, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+guiaColumns+`
FROM guias
ORDER BY created_at, parcel_id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select guias")
	}
	defer rows.Close()

	out := []*models.Guia{}
	for rows.Next() {
		g, err := scanGuia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// Find returns (nil, nil) when no guía matches; absence is a business
// outcome here, not an error.
func (s *Storage) Find(ctx context.Context, parcelID string) (*models.Guia, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+guiaColumns+`
FROM guias
WHERE parcel_id = $1
`, parcelID)
	if err != nil {
		return nil, errors.Wrap(err, "select guia")
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, errors.Wrap(rows.Err(), "rows")
		}
		return nil, nil
	}
	return scanGuia(rows)
}

// Insert appends a new guía. Returns false when a row with the same
// parcel_id already exists; the existing row is left untouched (no upsert).
func (s *Storage) Insert(ctx context.Context, g *models.Guia) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO guias (
  id, parcel_id, created_at,
  status, origin_city, destination_city,
  delivered_to, delivered_at,
  last_updated_at, history
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (parcel_id) DO NOTHING
`,
		g.ID, g.ParcelID, g.CreatedAt,
		g.Status, g.OriginCity, g.DestinationCity,
		g.DeliveredTo, g.DeliveredAt,
		g.LastUpdatedAt, history.Serialize(g.History),
	)
	if err != nil {
		return false, errors.Wrap(err, "insert guia")
	}
	return tag.RowsAffected() == 1, nil
}

// Update merges changes into an existing guía under a row lock: mutate runs
// on the current row inside the transaction, so two concurrent writers
// cannot overwrite each other's fields or history entries. id, parcel_id and
// created_at are immutable. Returns false when no row matched; an error from
// mutate rolls the transaction back and is returned as-is.
func (s *Storage) Update(ctx context.Context, parcelID string, mutate func(g *models.Guia) error) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+guiaColumns+`
FROM guias
WHERE parcel_id = $1
FOR UPDATE
`, parcelID)
	if err != nil {
		return false, errors.Wrap(err, "select guia for update")
	}
	if !rows.Next() {
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			return false, errors.Wrap(rowsErr, "rows")
		}
		return false, nil
	}
	g, err := scanGuia(rows)
	rows.Close()
	if err != nil {
		return false, err
	}

	if err := mutate(g); err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
UPDATE guias
SET
  status = $2,
  origin_city = $3,
  destination_city = $4,
  delivered_to = $5,
  delivered_at = $6,
  last_updated_at = $7,
  history = $8
WHERE parcel_id = $1
`,
		g.ParcelID,
		g.Status, g.OriginCity, g.DestinationCity,
		g.DeliveredTo, g.DeliveredAt,
		g.LastUpdatedAt, history.Serialize(g.History),
	); err != nil {
		return false, errors.Wrap(err, "update guia")
	}
	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}

func scanGuia(rows pgx.Rows) (*models.Guia, error) {
	var g models.Guia
	var rawHistory string
	if err := rows.Scan(
		&g.ID, &g.ParcelID, &g.CreatedAt,
		&g.Status, &g.OriginCity, &g.DestinationCity,
		&g.DeliveredTo, &g.DeliveredAt,
		&g.LastUpdatedAt, &rawHistory,
	); err != nil {
		return nil, errors.Wrap(err, "scan guia")
	}
	// Lenient by contract: a malformed history column becomes an empty log.
	g.History = history.Parse(rawHistory)
	return &g, nil
}
