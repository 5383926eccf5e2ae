// README: Google Maps client construction shared by the geocoder and route estimator.
package maps

import (
	"fmt"

	"googlemaps.github.io/maps"
)

// Options tune result bias. BaseURL is only set in tests.
type Options struct {
	Region   string
	Language string
	BaseURL  string
}

func newClient(apiKey string, opts Options) (*maps.Client, error) {
	clientOpts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(opts.BaseURL))
	}
	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}
