// README: Driver and vehicle limits as supplied by fleet management.
package fleet

import (
	"time"

	"tourdispatch/internal/types"
)

type Driver struct {
	ID              types.ID     `json:"id"`
	Name            string       `json:"name"`
	Active          bool         `json:"active"`
	VehicleCapacity float64      `json:"vehicle_capacity"`
	MaxStopsPerTour int          `json:"max_stops_per_tour"`
	MaxDailyTours   int          `json:"max_daily_tours"`
	HomeBase        *types.Point `json:"home_base,omitempty"`
	DeviceToken     string       `json:"-"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
