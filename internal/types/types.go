// README: Shared identifiers and coordinates used across modules.
package types

import "github.com/google/uuid"

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func NewID() ID {
	return ID(uuid.NewString())
}
