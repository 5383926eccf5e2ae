package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/types"
)

// DriversCmd groups fleet seeding commands.
func DriversCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drivers",
		Short: "List or seed drivers",
	}
	cmd.AddCommand(driversListCmd())
	cmd.AddCommand(driversUpsertCmd())
	return cmd
}

func driversListCmd() *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drivers and their limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			drivers, err := e.fleet().List(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			renderDrivers(os.Stdout, drivers)
			return nil
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active drivers")
	return cmd
}

type driverFlags struct {
	name     string
	capacity float64
	maxStops int
	maxTours int
	inactive bool
	homeLat  float64
	homeLng  float64
	hasHome  bool
}

func (f driverFlags) driver(id string) *fleet.Driver {
	d := &fleet.Driver{
		ID:              types.ID(id),
		Name:            f.name,
		Active:          !f.inactive,
		VehicleCapacity: f.capacity,
		MaxStopsPerTour: f.maxStops,
		MaxDailyTours:   f.maxTours,
	}
	if f.hasHome {
		d.HomeBase = &types.Point{Lat: f.homeLat, Lng: f.homeLng}
	}
	return d
}

func driversUpsertCmd() *cobra.Command {
	var f driverFlags

	cmd := &cobra.Command{
		Use:   "upsert <driver-id>",
		Short: "Create or update a driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.hasHome = cmd.Flags().Changed("home-lat") || cmd.Flags().Changed("home-lng")
			d := f.driver(args[0])

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.fleet().Upsert(cmd.Context(), d); err != nil {
				return fmt.Errorf("upsert %s: %w", d.ID, err)
			}
			fmt.Printf("%s driver %s saved\n", color.New(color.FgGreen).Sprint("✓"), d.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().Float64Var(&f.capacity, "capacity", 0, "vehicle capacity in litres")
	cmd.Flags().IntVar(&f.maxStops, "max-stops", 10, "maximum stops per tour")
	cmd.Flags().IntVar(&f.maxTours, "max-tours", 2, "maximum tours per day")
	cmd.Flags().BoolVar(&f.inactive, "inactive", false, "mark the driver inactive")
	cmd.Flags().Float64Var(&f.homeLat, "home-lat", 0, "home base latitude")
	cmd.Flags().Float64Var(&f.homeLng, "home-lng", 0, "home base longitude")
	_ = cmd.MarkFlagRequired("capacity")
	return cmd
}

func renderDrivers(w io.Writer, drivers []fleet.Driver) {
	if len(drivers) == 0 {
		fmt.Fprintln(w, "no drivers")
		return
	}
	for _, d := range drivers {
		state := color.New(color.FgGreen).Sprint("active")
		if !d.Active {
			state = color.New(color.FgHiBlack).Sprint("inactive")
		}
		home := "-"
		if d.HomeBase != nil {
			home = fmt.Sprintf("%.5f,%.5f", d.HomeBase.Lat, d.HomeBase.Lng)
		}
		fmt.Fprintf(w, "%-20s %-8s cap %6.0f  stops %2d  tours %d  home %s  %s\n",
			d.ID, state, d.VehicleCapacity, d.MaxStopsPerTour, d.MaxDailyTours, home, d.Name)
	}
}
