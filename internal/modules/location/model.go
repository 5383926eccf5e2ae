// README: Driver position records kept in Redis GEO.
package location

import (
	"time"

	"tourdispatch/internal/types"
)

type DriverPosition struct {
	DriverID   types.ID
	Position   types.Point
	RecordedAt time.Time
}

// DriverLocation represents a driver's position with computed distance.
type DriverLocation struct {
	DriverID types.ID    `json:"driver_id"`
	Position types.Point `json:"position"`
	Distance float64     `json:"distance_km"`
}
