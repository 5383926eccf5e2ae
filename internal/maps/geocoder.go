// README: Address geocoding for feed records that arrive without coordinates.
package maps

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"tourdispatch/internal/types"
)

var ErrNoResult = errors.New("address not found")

type Geocoder struct {
	client *maps.Client
	opts   Options
}

func NewGeocoder(apiKey string, opts Options) (*Geocoder, error) {
	client, err := newClient(apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &Geocoder{client: client, opts: opts}, nil
}

// Geocode resolves address to the coordinate of the best match.
func (g *Geocoder) Geocode(ctx context.Context, address string) (types.Point, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Region:   g.opts.Region,
		Language: g.opts.Language,
	})
	if err != nil {
		return types.Point{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, ErrNoResult
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
