// README: Location service validates driver position updates and answers last-known and nearby queries.
package location

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tourdispatch/internal/types"
)

var (
	ErrBadRequest = errors.New("invalid position")
	ErrNotFound   = errors.New("position not found")
)

// MaxStaleness bounds how old a stored position may be before LastKnown ignores it.
const MaxStaleness = 12 * time.Hour

type Service struct {
	store *Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store *Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

type UpdateCommand struct {
	DriverID types.ID
	Position types.Point
}

func (s *Service) Update(ctx context.Context, cmd UpdateCommand) error {
	if cmd.DriverID == "" || !cmd.Position.Valid() {
		return ErrBadRequest
	}
	return s.store.SetPosition(ctx, DriverPosition{
		DriverID:   cmd.DriverID,
		Position:   cmd.Position,
		RecordedAt: s.now(),
	})
}

// LastKnown returns the driver's most recent position if it is fresh enough.
func (s *Service) LastKnown(ctx context.Context, driverID types.ID) (types.Point, bool, error) {
	p, ok, err := s.store.Position(ctx, driverID)
	if err != nil || !ok {
		return types.Point{}, false, err
	}
	if !p.RecordedAt.IsZero() && s.now().Sub(p.RecordedAt) > MaxStaleness {
		s.log.Debug("ignoring stale position", zap.String("driver_id", string(driverID)), zap.Time("recorded_at", p.RecordedAt))
		return types.Point{}, false, nil
	}
	return p.Position, true, nil
}

// Nearby lists drivers within radiusKm of origin, closest first.
func (s *Service) Nearby(ctx context.Context, origin types.Point, radiusKm float64, limit int) ([]DriverLocation, error) {
	if !origin.Valid() || radiusKm <= 0 {
		return nil, ErrBadRequest
	}
	if limit <= 0 {
		limit = 20
	}
	drivers, err := s.store.Search(ctx, origin, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	sortByDistance(drivers, func(d DriverLocation) float64 { return d.Distance })
	return drivers, nil
}

// Clear forgets the driver's position, e.g. when they go off shift.
func (s *Service) Clear(ctx context.Context, driverID types.ID) error {
	if driverID == "" {
		return ErrBadRequest
	}
	return s.store.Remove(ctx, driverID)
}
