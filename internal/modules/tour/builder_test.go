package tour

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/modules/location"
	"tourdispatch/internal/types"
)

func pt(lat, lng float64) *types.Point {
	return &types.Point{Lat: lat, Lng: lng}
}

func cand(id string, qty float64, p *types.Point, priority int) demand.Demand {
	return demand.Demand{ID: types.ID(id), Quantity: qty, Position: p, Priority: priority, Status: demand.StatusNew}
}

func TestBuild_HeavySecondCandidateDoesNotFit(t *testing.T) {
	b := NewBuilder(DefaultBuildConfig())
	pool := []demand.Demand{
		cand("1", 2000, pt(0, 0), 80),
		cand("2", 1500, pt(0, 1), 10),
	}

	plan := b.Build(types.Point{Lat: 0, Lng: 0}, 3200, 10, pool)

	require.Len(t, plan.Stops, 1)
	assert.Equal(t, types.ID("1"), plan.Stops[0].DemandID)
	assert.Equal(t, 1, plan.Stops[0].Order)
	assert.InDelta(t, 1200, plan.RemainingCapacity, 1e-9)
	assert.InDelta(t, 0, plan.TotalDistanceKm, 1e-9)
}

func TestBuild_PriorityOutranksDistance(t *testing.T) {
	b := NewBuilder(DefaultBuildConfig())
	pool := []demand.Demand{
		cand("near-low", 100, pt(0, 0.1), 0),
		cand("far-high", 100, pt(0, 0.25), 100),
	}

	plan := b.Build(types.Point{}, 1000, 1, pool)

	require.Len(t, plan.Stops, 1)
	assert.Equal(t, types.ID("far-high"), plan.Stops[0].DemandID)
}

func TestBuild_TieKeepsInputOrder(t *testing.T) {
	b := NewBuilder(DefaultBuildConfig())
	pool := []demand.Demand{
		cand("first", 100, pt(0, 0.5), 20),
		cand("second", 100, pt(0, 0.5), 20),
	}

	plan := b.Build(types.Point{}, 1000, 1, pool)

	require.Len(t, plan.Stops, 1)
	assert.Equal(t, types.ID("first"), plan.Stops[0].DemandID)
}

func TestBuild_EmptyAndUnfit(t *testing.T) {
	b := NewBuilder(DefaultBuildConfig())

	assert.Empty(t, b.Build(types.Point{}, 1000, 5, nil).Stops)

	heavy := []demand.Demand{cand("a", 5000, pt(0, 0), 90), cand("b", 4000, pt(0, 0), 90)}
	plan := b.Build(types.Point{}, 1000, 5, heavy)
	assert.Empty(t, plan.Stops)
	assert.Equal(t, 1000.0, plan.RemainingCapacity)
}

func TestBuild_SkipsMissingCoordinate(t *testing.T) {
	b := NewBuilder(DefaultBuildConfig())
	pool := []demand.Demand{
		cand("nowhere", 10, nil, 100),
		cand("somewhere", 10, pt(1, 1), 0),
	}

	plan := b.Build(types.Point{}, 100, 5, pool)

	require.Len(t, plan.Stops, 1)
	assert.Equal(t, types.ID("somewhere"), plan.Stops[0].DemandID)
}

func TestBuild_RespectsMaxStopsAndIterationCeiling(t *testing.T) {
	pool := make([]demand.Demand, 0, 8)
	for i := 0; i < 8; i++ {
		pool = append(pool, cand(fmt.Sprintf("d%d", i), 10, pt(0, float64(i)*0.01), 50))
	}

	plan := NewBuilder(DefaultBuildConfig()).Build(types.Point{}, 1000, 3, pool)
	assert.Len(t, plan.Stops, 3)

	capped := NewBuilder(BuildConfig{MaxIterations: 2}).Build(types.Point{}, 1000, 10, pool)
	assert.Len(t, capped.Stops, 2)
}

func TestBuild_DoesNotMutatePool(t *testing.T) {
	pool := []demand.Demand{
		cand("a", 100, pt(0, 0.1), 10),
		cand("b", 200, pt(0, 0.2), 20),
	}
	snapshot := make([]demand.Demand, len(pool))
	copy(snapshot, pool)

	NewBuilder(DefaultBuildConfig()).Build(types.Point{}, 1000, 5, pool)

	assert.Equal(t, snapshot, pool)
}

func TestBuild_RandomPoolsKeepCapacityAndDenseOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := NewBuilder(DefaultBuildConfig())

	for round := 0; round < 200; round++ {
		n := rng.Intn(60)
		pool := make([]demand.Demand, n)
		for i := range pool {
			var p *types.Point
			if rng.Intn(10) > 0 {
				p = pt(48+rng.Float64(), 11+rng.Float64())
			}
			pool[i] = cand(fmt.Sprintf("r%d-%d", round, i), float64(1+rng.Intn(3000)), p, rng.Intn(101))
		}
		capacity := float64(500 + rng.Intn(8000))
		maxStops := 1 + rng.Intn(25)

		plan := b.Build(types.Point{Lat: 48.5, Lng: 11.5}, capacity, maxStops, pool)

		sum := 0.0
		seen := map[types.ID]bool{}
		for i, st := range plan.Stops {
			sum += st.PlannedQuantity
			assert.Equal(t, i+1, st.Order)
			assert.False(t, seen[st.DemandID], "demand %s selected twice", st.DemandID)
			seen[st.DemandID] = true
		}
		assert.LessOrEqual(t, sum, capacity)
		assert.LessOrEqual(t, len(plan.Stops), maxStops)
		assert.InDelta(t, capacity-sum, plan.RemainingCapacity, 1e-6)
	}
}

func TestPlanWithout_RenumbersAndRecomputes(t *testing.T) {
	start := types.Point{}
	pool := []demand.Demand{
		cand("a", 100, pt(0, 0.1), 0),
		cand("b", 200, pt(0, 0.2), 0),
		cand("c", 300, pt(0, 0.3), 0),
	}
	plan := NewBuilder(DefaultBuildConfig()).Build(start, 1000, 5, pool)
	require.Len(t, plan.Stops, 3)

	trimmed := plan.Without(map[types.ID]bool{"b": true}, start)

	require.Len(t, trimmed.Stops, 2)
	assert.Equal(t, types.ID("a"), trimmed.Stops[0].DemandID)
	assert.Equal(t, types.ID("c"), trimmed.Stops[1].DemandID)
	assert.Equal(t, 2, trimmed.Stops[1].Order)
	assert.InDelta(t, location.HaversineKm(*pt(0, 0.1), *pt(0, 0.3)), trimmed.Stops[1].DistanceFromPrevKm, 1e-9)
	assert.InDelta(t, 600, trimmed.RemainingCapacity, 1e-9)
	assert.InDelta(t, location.HaversineKm(start, *pt(0, 0.3)), trimmed.TotalDistanceKm, 1e-6)

	assert.Len(t, plan.Stops, 3, "original plan must stay intact")
	assert.Equal(t, 2, plan.Stops[1].Order)
}
