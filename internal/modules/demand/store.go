// README: Demand store backed by PostgreSQL; assignment writes are conditional on the current row state.
package demand

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tourdispatch/internal/types"
)

type UpsertResult int

const (
	UpsertCreated UpsertResult = iota
	UpsertUpdated
	// UpsertSkipped means the row exists but is assigned or terminal and was left alone.
	UpsertSkipped
)

const demandColumns = `
	id, external_id, site_id, site_name, contact_phone, address,
	lat, lng, quantity, requested_at, deadline_at, priority,
	status, status_version, driver_id, tour_id, assigned_date,
	notes, created_at, updated_at`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Upsert inserts or refreshes a demand by external id. requested_at is kept from
// the first sighting; d.ID and d.RequestedAt are set to the stored values.
func (s *Store) Upsert(ctx context.Context, d *Demand) (UpsertResult, error) {
	var lat, lng *float64
	if d.Position != nil {
		lat, lng = &d.Position.Lat, &d.Position.Lng
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO demands (
			id, external_id, site_id, site_name, contact_phone, address,
			lat, lng, quantity, requested_at, deadline_at, priority,
			status, status_version, notes, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, 0, $14, $15, $15
		)
		ON CONFLICT (external_id) DO UPDATE SET
			site_id = EXCLUDED.site_id,
			site_name = EXCLUDED.site_name,
			contact_phone = EXCLUDED.contact_phone,
			address = EXCLUDED.address,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			quantity = EXCLUDED.quantity,
			deadline_at = EXCLUDED.deadline_at,
			priority = EXCLUDED.priority,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		WHERE demands.tour_id IS NULL
		  AND demands.status IN ('NEW','CONFIRMED','NOT_READY')
		RETURNING id, (xmax = 0), requested_at`,
		string(d.ID), d.ExternalID, d.SiteID, d.SiteName, d.ContactPhone, d.Address,
		lat, lng, d.Quantity, d.RequestedAt, d.DeadlineAt, d.Priority,
		string(d.Status), d.Notes, d.UpdatedAt,
	)
	var inserted bool
	err := row.Scan(&d.ID, &inserted, &d.RequestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UpsertSkipped, nil
	}
	if err != nil {
		return 0, err
	}
	if inserted {
		return UpsertCreated, nil
	}
	return UpsertUpdated, nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Demand, error) {
	row := s.db.QueryRow(ctx, `SELECT `+demandColumns+` FROM demands WHERE id = $1`, string(id))
	d, err := scanDemand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) List(ctx context.Context, f Filter) ([]Demand, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.DriverID != "" {
		args = append(args, string(f.DriverID))
		where = append(where, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	query := `SELECT ` + demandColumns + ` FROM demands`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY priority DESC, requested_at ASC LIMIT $%d", len(args))
	return s.query(ctx, query, args...)
}

// Eligible returns the unassigned pool a tour may draw from, most urgent first.
func (s *Store) Eligible(ctx context.Context, limit int) ([]Demand, error) {
	return s.query(ctx, `
		SELECT `+demandColumns+`
		FROM demands
		WHERE status IN ('NEW','CONFIRMED','NOT_READY')
		  AND tour_id IS NULL
		  AND lat IS NOT NULL AND lng IS NOT NULL
		  AND quantity > 0
		ORDER BY priority DESC, deadline_at ASC NULLS LAST, requested_at ASC
		LIMIT $1`, limit)
}

// Scorable returns every demand whose priority may still influence a future tour.
func (s *Store) Scorable(ctx context.Context) ([]Demand, error) {
	return s.query(ctx, `
		SELECT `+demandColumns+`
		FROM demands
		WHERE status IN ('NEW','CONFIRMED','NOT_READY')
		  AND tour_id IS NULL`)
}

func (s *Store) UpdatePriorities(ctx context.Context, scores map[types.ID]int) error {
	if len(scores) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for id, p := range scores {
		batch.Queue(`UPDATE demands SET priority = $1, updated_at = NOW() WHERE id = $2 AND priority <> $1`, p, string(id))
	}
	return s.db.SendBatch(ctx, batch).Close()
}

// UpdateStatus moves an unassigned demand between operator-controlled statuses.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE demands
		SET status = $1,
			status_version = status_version + 1,
			updated_at = NOW()
		WHERE id = $2 AND status = $3 AND status_version = $4 AND tour_id IS NULL`,
		string(to), string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireOverdue marks unassigned demands whose deadline passed before cutoff as EXPIRED.
func (s *Store) ExpireOverdue(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE demands
		SET status = 'EXPIRED', status_version = status_version + 1, updated_at = NOW()
		WHERE status IN ('NEW','CONFIRMED','NOT_READY')
		  AND tour_id IS NULL
		  AND deadline_at IS NOT NULL
		  AND deadline_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeTerminal deletes terminal demands last touched before cutoff. Finished
// tours (COMPLETED or CANCELED) that ended before cutoff are retired in the same
// transaction together with their stops and events, since their stops are the
// only thing keeping completed and partial demands referenced.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tourIDs []string
	rows, err := tx.Query(ctx, `
		SELECT id FROM tours
		WHERE status IN ('COMPLETED','CANCELED')
		  AND COALESCE(completed_at, canceled_at, created_at) < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select finished tours: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		tourIDs = append(tourIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var purged int64
	if len(tourIDs) > 0 {
		for _, q := range []string{
			`DELETE FROM tour_events WHERE tour_id = ANY($1)`,
			`DELETE FROM tour_stops WHERE tour_id = ANY($1)`,
		} {
			if _, err := tx.Exec(ctx, q, tourIDs); err != nil {
				return 0, fmt.Errorf("retire tours: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM demands
			WHERE tour_id = ANY($1)
			  AND status IN ('COMPLETED','PARTIAL','EXPIRED','CANCELED')`, tourIDs)
		if err != nil {
			return 0, fmt.Errorf("purge tour demands: %w", err)
		}
		purged += tag.RowsAffected()
		if _, err := tx.Exec(ctx, `DELETE FROM tours WHERE id = ANY($1)`, tourIDs); err != nil {
			return 0, fmt.Errorf("delete tours: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM demands d
		WHERE d.status IN ('COMPLETED','PARTIAL','EXPIRED','CANCELED')
		  AND d.tour_id IS NULL
		  AND d.updated_at < $1
		  AND NOT EXISTS (SELECT 1 FROM tour_stops s WHERE s.demand_id = d.id)`, cutoff)
	if err != nil {
		return 0, err
	}
	purged += tag.RowsAffected()
	return purged, tx.Commit(ctx)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Demand, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Demand
	for rows.Next() {
		d, err := scanDemand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDemand(row pgx.Row) (*Demand, error) {
	var d Demand
	var lat, lng sql.NullFloat64
	var deadline, assignedDate sql.NullTime
	var driverID, tourID sql.NullString
	err := row.Scan(
		&d.ID, &d.ExternalID, &d.SiteID, &d.SiteName, &d.ContactPhone, &d.Address,
		&lat, &lng, &d.Quantity, &d.RequestedAt, &deadline, &d.Priority,
		&d.Status, &d.StatusVersion, &driverID, &tourID, &assignedDate,
		&d.Notes, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		d.Position = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if deadline.Valid {
		t := deadline.Time
		d.DeadlineAt = &t
	}
	if tourID.Valid {
		d.Assignment = &Assignment{
			DriverID: types.ID(driverID.String),
			TourID:   types.ID(tourID.String),
			Date:     assignedDate.Time,
		}
	}
	return &d, nil
}
