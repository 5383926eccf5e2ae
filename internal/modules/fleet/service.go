// README: Fleet lookup service; read-only from the dispatch core's point of view.
package fleet

import (
	"context"
	"errors"

	"tourdispatch/internal/types"
)

var (
	ErrNotFound   = errors.New("driver not found")
	ErrBadRequest = errors.New("bad request")
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

func (s *Service) Driver(ctx context.Context, id types.ID) (*Driver, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]Driver, error) {
	return s.store.List(ctx, activeOnly)
}

// Upsert seeds or updates a driver record; used by operator tooling.
func (s *Service) Upsert(ctx context.Context, d *Driver) error {
	if d.ID == "" || d.VehicleCapacity <= 0 || d.MaxStopsPerTour <= 0 || d.MaxDailyTours <= 0 {
		return ErrBadRequest
	}
	if d.HomeBase != nil && !d.HomeBase.Valid() {
		return ErrBadRequest
	}
	return s.store.Upsert(ctx, d)
}

// RegisterDevice stores the FCM token of the driver's handset. An empty token unregisters it.
func (s *Service) RegisterDevice(ctx context.Context, id types.ID, token string) error {
	if id == "" {
		return ErrBadRequest
	}
	return s.store.SetDeviceToken(ctx, id, token)
}
