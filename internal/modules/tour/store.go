// README: Tour store backed by PostgreSQL; tour creation and stop transitions run in one transaction each.
package tour

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tourdispatch/internal/metrics"
	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/types"
)

const uniqueViolation = "23505"

const tourColumns = `
	id, driver_id, tour_date, status, status_version, vehicle_capacity,
	total_distance_km, remaining_capacity, start_lat, start_lng,
	created_at, started_at, completed_at, canceled_at`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateWithClaims(ctx context.Context, d Draft) (*Tour, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO tours (
			id, driver_id, tour_date, status, status_version, vehicle_capacity,
			total_distance_km, remaining_capacity, start_lat, start_lng, created_at
		) VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, $9, $10)`,
		string(d.TourID), string(d.DriverID), d.Date, string(StatusPlanned), d.Plan.Capacity,
		d.Plan.TotalDistanceKm, d.Plan.RemainingCapacity, d.Start.Lat, d.Start.Lng, d.Now,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, ErrActiveTourExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert tour: %w", err)
	}

	lost := map[types.ID]bool{}
	for _, st := range d.Plan.Stops {
		tag, err := tx.Exec(ctx, `
			UPDATE demands
			SET status = $1,
				status_version = status_version + 1,
				driver_id = $2,
				tour_id = $3,
				assigned_date = $4,
				updated_at = $5
			WHERE id = $6
			  AND tour_id IS NULL
			  AND status IN ('NEW','CONFIRMED','NOT_READY')
			  AND quantity = $7`,
			string(demand.StatusScheduled), string(d.DriverID), string(d.TourID), d.Date, d.Now,
			string(st.DemandID), st.PlannedQuantity,
		)
		if err != nil {
			return nil, fmt.Errorf("claim demand %s: %w", st.DemandID, err)
		}
		if tag.RowsAffected() != 1 {
			lost[st.DemandID] = true
		}
	}

	plan := d.Plan
	if len(lost) > 0 {
		metrics.ClaimConflicts.Add(float64(len(lost)))
		plan = plan.Without(lost, d.Start)
		if len(plan.Stops) == 0 {
			return nil, ErrNoStops
		}
		if _, err := tx.Exec(ctx, `
			UPDATE tours SET total_distance_km = $1, remaining_capacity = $2 WHERE id = $3`,
			plan.TotalDistanceKm, plan.RemainingCapacity, string(d.TourID),
		); err != nil {
			return nil, err
		}
	}

	t := &Tour{
		ID:                d.TourID,
		DriverID:          d.DriverID,
		Date:              d.Date,
		Status:            StatusPlanned,
		VehicleCapacity:   plan.Capacity,
		TotalDistanceKm:   plan.TotalDistanceKm,
		RemainingCapacity: plan.RemainingCapacity,
		StartPosition:     d.Start,
		CreatedAt:         d.Now,
	}

	batch := &pgx.Batch{}
	for _, ps := range plan.Stops {
		st := Stop{
			ID:                 types.NewID(),
			TourID:             d.TourID,
			DemandID:           ps.DemandID,
			Order:              ps.Order,
			PlannedQuantity:    ps.PlannedQuantity,
			Status:             StopScheduled,
			DistanceFromPrevKm: ps.DistanceFromPrevKm,
			Position:           ps.Position,
		}
		t.Stops = append(t.Stops, st)
		batch.Queue(`
			INSERT INTO tour_stops (
				id, tour_id, demand_id, stop_order, planned_quantity, status,
				distance_from_prev_km, lat, lng
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			string(st.ID), string(st.TourID), string(st.DemandID), st.Order, st.PlannedQuantity,
			string(st.Status), st.DistanceFromPrevKm, st.Position.Lat, st.Position.Lng,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert stops: %w", err)
	}

	if err := appendEvent(ctx, tx, &Event{
		TourID:     t.ID,
		FromStatus: string(StatusNone),
		ToStatus:   string(StatusPlanned),
		ActorType:  "driver",
		ActorID:    &t.DriverID,
		CreatedAt:  d.Now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Tour, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tourColumns+` FROM tours WHERE id = $1`, string(id))
	t, err := scanTour(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadStops(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) Active(ctx context.Context, driverID types.ID, date time.Time) (*Tour, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tourColumns+`
		FROM tours
		WHERE driver_id = $1 AND tour_date = $2 AND status IN ('PLANNED','IN_PROGRESS')`,
		string(driverID), date,
	)
	t, err := scanTour(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadStops(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) CountForDay(ctx context.Context, driverID types.ID, date time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM tours
		WHERE driver_id = $1 AND tour_date = $2 AND status <> 'CANCELED'`,
		string(driverID), date,
	).Scan(&n)
	return n, err
}

func (s *Store) ListByDate(ctx context.Context, date time.Time) ([]Tour, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tourColumns+`
		FROM tours
		WHERE tour_date = $1
		ORDER BY created_at`, date,
	)
	if err != nil {
		return nil, err
	}
	var out []Tour
	for rows.Next() {
		t, err := scanTour(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadStops(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, t *Tour, from Status, version int, e *Event) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ok, err := updateTourRow(ctx, tx, t, &from, version)
	if err != nil || !ok {
		return false, err
	}
	if err := appendEvent(ctx, tx, e); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *Store) SaveStopTransition(ctx context.Context, t *Tour, version int, out StopOutcome, e *Event) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ok, err := updateTourRow(ctx, tx, t, nil, version)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}

	st := out.Stop
	if _, err := tx.Exec(ctx, `
		UPDATE tour_stops
		SET status = $1, actual_quantity = $2, completed_at = $3, notes = $4
		WHERE id = $5 AND tour_id = $6`,
		string(st.Status), st.ActualQuantity, st.CompletedAt, st.Notes,
		string(st.ID), string(t.ID),
	); err != nil {
		return fmt.Errorf("update stop: %w", err)
	}

	status, keep := demand.StatusForStop(string(st.Status))
	if keep {
		_, err = tx.Exec(ctx, `
			UPDATE demands
			SET status = $1, status_version = status_version + 1, updated_at = NOW()
			WHERE id = $2 AND tour_id = $3`,
			string(status), string(st.DemandID), string(t.ID),
		)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE demands
			SET status = $1, status_version = status_version + 1,
				driver_id = NULL, tour_id = NULL, assigned_date = NULL, updated_at = NOW()
			WHERE id = $2 AND tour_id = $3`,
			string(status), string(st.DemandID), string(t.ID),
		)
	}
	if err != nil {
		return fmt.Errorf("mirror demand: %w", err)
	}

	if err := appendEvent(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Cancel(ctx context.Context, t *Tour, from Status, version int, release []types.ID, e *Event) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ok, err := updateTourRow(ctx, tx, t, &from, version)
	if err != nil || !ok {
		return false, err
	}
	if len(release) > 0 {
		ids := make([]string, len(release))
		for i, id := range release {
			ids[i] = string(id)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE demands
			SET status = 'CONFIRMED', status_version = status_version + 1,
				driver_id = NULL, tour_id = NULL, assigned_date = NULL, updated_at = NOW()
			WHERE id = ANY($1) AND tour_id = $2`,
			ids, string(t.ID),
		); err != nil {
			return false, fmt.Errorf("release demands: %w", err)
		}
	}
	if err := appendEvent(ctx, tx, e); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// updateTourRow writes t's status fields if the row still has the expected version (and status, when given).
func updateTourRow(ctx context.Context, tx pgx.Tx, t *Tour, from *Status, version int) (bool, error) {
	var fromStatus *string
	if from != nil {
		v := string(*from)
		fromStatus = &v
	}
	tag, err := tx.Exec(ctx, `
		UPDATE tours
		SET status = $1,
			status_version = status_version + 1,
			started_at = $2,
			completed_at = $3,
			canceled_at = $4
		WHERE id = $5
		  AND status_version = $6
		  AND ($7::text IS NULL OR status = $7)`,
		string(t.Status), t.StartedAt, t.CompletedAt, t.CanceledAt,
		string(t.ID), version, fromStatus,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	var stopID, actorID *string
	if e.StopID != nil {
		v := string(*e.StopID)
		stopID = &v
	}
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actorID = &v
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO tour_events (
			tour_id, stop_id, from_status, to_status, actor_type, actor_id, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.TourID), stopID, e.FromStatus, e.ToStatus, e.ActorType, actorID, e.Note, e.CreatedAt,
	)
	return err
}

func (s *Store) loadStops(ctx context.Context, t *Tour) error {
	rows, err := s.db.Query(ctx, `
		SELECT id, tour_id, demand_id, stop_order, planned_quantity, actual_quantity, status,
		       distance_from_prev_km, lat, lng, completed_at, notes
		FROM tour_stops
		WHERE tour_id = $1
		ORDER BY stop_order`, string(t.ID),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	t.Stops = t.Stops[:0]
	for rows.Next() {
		var st Stop
		var actual sql.NullFloat64
		var completedAt sql.NullTime
		if err := rows.Scan(
			&st.ID, &st.TourID, &st.DemandID, &st.Order, &st.PlannedQuantity, &actual, &st.Status,
			&st.DistanceFromPrevKm, &st.Position.Lat, &st.Position.Lng, &completedAt, &st.Notes,
		); err != nil {
			return err
		}
		if actual.Valid {
			v := actual.Float64
			st.ActualQuantity = &v
		}
		st.CompletedAt = toTimePtr(completedAt)
		t.Stops = append(t.Stops, st)
	}
	return rows.Err()
}

func scanTour(row pgx.Row) (*Tour, error) {
	var t Tour
	var startedAt, completedAt, canceledAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.DriverID, &t.Date, &t.Status, &t.StatusVersion, &t.VehicleCapacity,
		&t.TotalDistanceKm, &t.RemainingCapacity, &t.StartPosition.Lat, &t.StartPosition.Lng,
		&t.CreatedAt, &startedAt, &completedAt, &canceledAt,
	)
	if err != nil {
		return nil, err
	}
	t.StartedAt = toTimePtr(startedAt)
	t.CompletedAt = toTimePtr(completedAt)
	t.CanceledAt = toTimePtr(canceledAt)
	return &t, nil
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
