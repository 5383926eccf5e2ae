// README: Driver store backed by PostgreSQL.
package fleet

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tourdispatch/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, active, vehicle_capacity, max_stops_per_tour, max_daily_tours,
		       home_lat, home_lng, device_token, updated_at
		FROM drivers
		WHERE id = $1`, string(id),
	)
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *Store) List(ctx context.Context, activeOnly bool) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, active, vehicle_capacity, max_stops_per_tour, max_daily_tours,
		       home_lat, home_lng, device_token, updated_at
		FROM drivers
		WHERE active OR NOT $1
		ORDER BY id`, activeOnly,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, d *Driver) error {
	var lat, lng *float64
	if d.HomeBase != nil {
		lat, lng = &d.HomeBase.Lat, &d.HomeBase.Lng
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (
			id, name, active, vehicle_capacity, max_stops_per_tour, max_daily_tours,
			home_lat, home_lng, device_token, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			vehicle_capacity = EXCLUDED.vehicle_capacity,
			max_stops_per_tour = EXCLUDED.max_stops_per_tour,
			max_daily_tours = EXCLUDED.max_daily_tours,
			home_lat = EXCLUDED.home_lat,
			home_lng = EXCLUDED.home_lng,
			device_token = EXCLUDED.device_token,
			updated_at = NOW()`,
		string(d.ID), d.Name, d.Active, d.VehicleCapacity, d.MaxStopsPerTour, d.MaxDailyTours,
		lat, lng, d.DeviceToken,
	)
	return err
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var lat, lng sql.NullFloat64
	if err := row.Scan(
		&d.ID, &d.Name, &d.Active, &d.VehicleCapacity, &d.MaxStopsPerTour, &d.MaxDailyTours,
		&lat, &lng, &d.DeviceToken, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		d.HomeBase = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &d, nil
}

func (s *Store) SetDeviceToken(ctx context.Context, id types.ID, token string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET device_token = $2, updated_at = NOW()
		WHERE id = $1`, string(id), token,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}
