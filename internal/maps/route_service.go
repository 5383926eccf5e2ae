// README: Road travel estimates for a planned stop sequence via the Directions API.
package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"tourdispatch/internal/types"
)

// RouteService estimates driving time and distance along a fixed stop order.
type RouteService struct {
	client *maps.Client
	opts   Options
}

func NewRouteService(apiKey string, opts Options) (*RouteService, error) {
	client, err := newClient(apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &RouteService{client: client, opts: opts}, nil
}

type Estimate struct {
	Duration   time.Duration
	DistanceKm float64
}

// Estimate returns the driving estimate from start through every stop in
// order. Waypoints are not reordered.
func (s *RouteService) Estimate(ctx context.Context, start types.Point, stops []types.Point) (Estimate, error) {
	if len(stops) == 0 {
		return Estimate{}, nil
	}
	r := &maps.DirectionsRequest{
		Origin:      latLng(start),
		Destination: latLng(stops[len(stops)-1]),
		Mode:        maps.TravelModeDriving,
		Language:    s.opts.Language,
		Region:      s.opts.Region,
	}
	for _, p := range stops[:len(stops)-1] {
		r.Waypoints = append(r.Waypoints, latLng(p))
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Estimate{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Estimate{}, fmt.Errorf("no route found")
	}

	var est Estimate
	for _, leg := range routes[0].Legs {
		est.Duration += leg.Duration
		est.DistanceKm += float64(leg.Distance.Meters) / 1000
	}
	return est, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
