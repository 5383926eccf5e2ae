package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tourdispatch/internal/infra"
	"tourdispatch/internal/maps"
	"tourdispatch/internal/modules/feed"
)

// SyncCmd runs one demand feed sync.
func SyncCmd() *cobra.Command {
	var skipGeocode bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the demand feed once and ingest it",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if e.cfg.Feed.URL == "" {
				return fmt.Errorf("DISPATCH_FEED_URL is not set")
			}
			var geocoder feed.Geocoder
			if !skipGeocode && e.cfg.Maps.APIKey != "" {
				g, err := maps.NewGeocoder(e.cfg.Maps.APIKey, maps.Options{})
				if err != nil {
					return err
				}
				geocoder = g
			}
			svc := feed.NewService(
				feed.NewHTTPSource(feed.HTTPSourceConfig{
					URL:        e.cfg.Feed.URL,
					Token:      e.cfg.Feed.Token,
					Timeout:    e.feedTimeout(),
					MaxRetries: e.cfg.Feed.MaxRetries,
				}),
				e.demands(), geocoder, time.Duration(0), infra.Logger().Named("feed"),
			)

			res, err := svc.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("fetched %d, geocoded %d: %s created, %s updated, %d skipped, %s invalid\n",
				res.Fetched, res.Geocoded,
				color.New(color.FgGreen).Sprint(res.Created),
				color.New(color.FgCyan).Sprint(res.Updated),
				res.Skipped,
				color.New(color.FgRed).Sprint(res.Invalid),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipGeocode, "no-geocode", false, "do not geocode records without coordinates")
	return cmd
}
