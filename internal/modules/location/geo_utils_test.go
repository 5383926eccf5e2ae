package location

import (
	"math"
	"testing"

	"tourdispatch/internal/types"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: 25.033, Lng: 121.565},
			b:         types.Point{Lat: 25.033, Lng: 121.565},
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "one degree of longitude on the equator",
			a:         types.Point{Lat: 0, Lng: 0},
			b:         types.Point{Lat: 0, Lng: 1},
			wantKm:    111.19,
			tolerance: 0.1,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("HaversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	a := types.Point{Lat: 25.0, Lng: 121.0}
	b := types.Point{Lat: 26.0, Lng: 122.0}
	if d1, d2 := HaversineKm(a, b), HaversineKm(b, a); math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestSortByDistance_Drivers(t *testing.T) {
	drivers := []DriverLocation{
		{DriverID: types.ID("c"), Distance: 5.0},
		{DriverID: types.ID("a"), Distance: 1.0},
		{DriverID: types.ID("b"), Distance: 3.0},
	}

	sortByDistance(drivers, func(d DriverLocation) float64 { return d.Distance })

	if drivers[0].DriverID != "a" || drivers[1].DriverID != "b" || drivers[2].DriverID != "c" {
		t.Errorf("unexpected sort order: %v", drivers)
	}
}

func TestSortByDistance_Empty(t *testing.T) {
	var drivers []DriverLocation
	sortByDistance(drivers, func(d DriverLocation) float64 { return d.Distance })
}
