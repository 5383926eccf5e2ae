package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tourdispatch/internal/maps"
	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/modules/tour"
	"tourdispatch/internal/types"
)

// RoadEstimator is satisfied by maps.RouteService.
type RoadEstimator interface {
	Estimate(ctx context.Context, start types.Point, stops []types.Point) (maps.Estimate, error)
}

// PlanCmd builds a tour for a driver without claiming anything.
func PlanCmd() *cobra.Command {
	var lat, lng float64
	var road bool

	cmd := &cobra.Command{
		Use:   "plan <driver-id>",
		Short: "Dry-run the tour builder for a driver",
		Long: `Build the tour the driver would receive right now from the current
eligible pool. Nothing is written; demands stay unassigned.

Examples:
  dispatchctl plan drv-7
  dispatchctl plan drv-7 --lat 52.52 --lng 13.405
  dispatchctl plan drv-7 --road      # add a driving estimate from the maps API`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			driver, err := e.fleet().Driver(ctx, types.ID(args[0]))
			if err != nil {
				return fmt.Errorf("driver %s: %w", args[0], err)
			}
			start, err := planStart(driver, cmd.Flags().Changed("lat"), lat, lng)
			if err != nil {
				return err
			}
			pool, err := e.demands().Eligible(ctx, e.cfg.Dispatch.PoolLimit)
			if err != nil {
				return err
			}
			plan := e.builder().Build(start, driver.VehicleCapacity, driver.MaxStopsPerTour, pool)

			var est *maps.Estimate
			if road && len(plan.Stops) > 0 {
				if e.cfg.Maps.APIKey == "" {
					return fmt.Errorf("--road needs DISPATCH_MAPS_API_KEY")
				}
				rs, err := maps.NewRouteService(e.cfg.Maps.APIKey, maps.Options{})
				if err != nil {
					return err
				}
				r, err := roadEstimate(ctx, rs, start, plan)
				if err != nil {
					return err
				}
				est = &r
			}
			renderPlan(os.Stdout, driver, start, len(pool), plan, est)
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "start latitude (default: driver home base)")
	cmd.Flags().Float64Var(&lng, "lng", 0, "start longitude")
	cmd.Flags().BoolVar(&road, "road", false, "estimate driving time and distance along the planned order")
	return cmd
}

func planStart(d *fleet.Driver, explicit bool, lat, lng float64) (types.Point, error) {
	if explicit {
		p := types.Point{Lat: lat, Lng: lng}
		if !p.Valid() {
			return types.Point{}, fmt.Errorf("invalid start position %.6f,%.6f", lat, lng)
		}
		return p, nil
	}
	if d.HomeBase != nil {
		return *d.HomeBase, nil
	}
	return types.Point{}, fmt.Errorf("driver %s has no home base; pass --lat/--lng", d.ID)
}

func roadEstimate(ctx context.Context, est RoadEstimator, start types.Point, plan tour.Plan) (maps.Estimate, error) {
	stops := make([]types.Point, len(plan.Stops))
	for i, s := range plan.Stops {
		stops[i] = s.Position
	}
	return est.Estimate(ctx, start, stops)
}

func renderPlan(w io.Writer, d *fleet.Driver, start types.Point, poolSize int, plan tour.Plan, est *maps.Estimate) {
	header := color.New(color.FgHiMagenta).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "%s %s  start %.5f,%.5f  pool %d\n", header("Driver"), d.ID, start.Lat, start.Lng, poolSize)
	if len(plan.Stops) == 0 {
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("no eligible demand within capacity"))
		return
	}

	fmt.Fprintf(w, "%s\n", dim(fmt.Sprintf("%3s  %-36s  %9s  %8s  %s", "#", "demand", "quantity", "km", "priority")))
	for _, s := range plan.Stops {
		fmt.Fprintf(w, "%3d  %-36s  %9.0f  %8.2f  %s\n",
			s.Order, s.DemandID, s.PlannedQuantity, s.DistanceFromPrevKm, priorityLabel(s.Priority))
	}
	fmt.Fprintln(w, strings.Repeat("-", 72))
	fmt.Fprintf(w, "%d stops, %.2f km straight-line, load %.0f of %.0f\n",
		len(plan.Stops), plan.TotalDistanceKm, plan.Capacity-plan.RemainingCapacity, plan.Capacity)
	if est != nil {
		fmt.Fprintf(w, "%s %.1f km, %s\n", header("Road"), est.DistanceKm, est.Duration.Round(60e9))
	}
}

func priorityLabel(p int) string {
	switch {
	case p >= 80:
		return color.New(color.FgRed).Sprint(p)
	case p >= 50:
		return color.New(color.FgYellow).Sprint(p)
	default:
		return color.New(color.FgGreen).Sprint(p)
	}
}
