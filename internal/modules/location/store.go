// README: Location store backed by Redis GEO plus a last-seen hash.
package location

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tourdispatch/internal/types"
)

const (
	driverGeoKey  = "dispatch:drivers:geo"
	driverSeenKey = "dispatch:drivers:seen"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) SetPosition(ctx context.Context, p DriverPosition) error {
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(p.DriverID),
		Longitude: p.Position.Lng,
		Latitude:  p.Position.Lat,
	})
	pipe.HSet(ctx, driverSeenKey, string(p.DriverID), p.RecordedAt.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

// Position returns the last stored position and whether one exists.
func (s *Store) Position(ctx context.Context, id types.ID) (DriverPosition, bool, error) {
	pos, err := s.redis.GeoPos(ctx, driverGeoKey, string(id)).Result()
	if err != nil {
		return DriverPosition{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return DriverPosition{}, false, nil
	}
	out := DriverPosition{
		DriverID: id,
		Position: types.Point{Lat: pos[0].Latitude, Lng: pos[0].Longitude},
	}
	seen, err := s.redis.HGet(ctx, driverSeenKey, string(id)).Result()
	if err != nil && err != redis.Nil {
		return DriverPosition{}, false, err
	}
	if ms, convErr := strconv.ParseInt(seen, 10, 64); convErr == nil {
		out.RecordedAt = time.UnixMilli(ms)
	}
	return out, true, nil
}

func (s *Store) Remove(ctx context.Context, id types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, driverGeoKey, string(id))
	pipe.HDel(ctx, driverSeenKey, string(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Search(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]DriverLocation, error) {
	results, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DriverLocation, 0, len(results))
	for _, r := range results {
		pos := types.Point{Lat: r.Latitude, Lng: r.Longitude}
		out = append(out, DriverLocation{
			DriverID: types.ID(r.Name),
			Position: pos,
			Distance: HaversineKm(p, pos),
		})
	}
	return out, nil
}
