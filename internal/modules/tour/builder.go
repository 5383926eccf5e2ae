// README: Single-pass greedy tour construction over a snapshot of the eligible pool.
package tour

import (
	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/modules/location"
	"tourdispatch/internal/types"
)

type BuildConfig struct {
	// PriorityDivisor scales priority into the distance discount: factor = 1 + priority/divisor.
	PriorityDivisor float64
	// MaxIterations caps the selection loop regardless of pool size.
	MaxIterations int
}

func DefaultBuildConfig() BuildConfig {
	return BuildConfig{PriorityDivisor: 50, MaxIterations: 100}
}

type PlannedStop struct {
	DemandID           types.ID    `json:"demand_id"`
	Order              int         `json:"order"`
	PlannedQuantity    float64     `json:"planned_quantity"`
	DistanceFromPrevKm float64     `json:"distance_from_prev_km"`
	Position           types.Point `json:"position"`
	Priority           int         `json:"priority"`
}

type Plan struct {
	Capacity          float64       `json:"capacity"`
	Stops             []PlannedStop `json:"stops"`
	TotalDistanceKm   float64       `json:"total_distance_km"`
	RemainingCapacity float64       `json:"remaining_capacity"`
}

type Builder struct {
	cfg BuildConfig
}

func NewBuilder(cfg BuildConfig) *Builder {
	def := DefaultBuildConfig()
	if cfg.PriorityDivisor <= 0 {
		cfg.PriorityDivisor = def.PriorityDivisor
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	return &Builder{cfg: cfg}
}

// Build picks stops one at a time, each time taking the candidate with the
// lowest distance/(1+priority/divisor) that still fits. The pool is read only.
func (b *Builder) Build(start types.Point, capacity float64, maxStops int, pool []demand.Demand) Plan {
	plan := Plan{Capacity: capacity, RemainingCapacity: capacity}
	if maxStops <= 0 || capacity <= 0 || len(pool) == 0 {
		return plan
	}

	used := make([]bool, len(pool))
	current := start
	ceiling := min(len(pool), b.cfg.MaxIterations)

	for iter := 0; iter < ceiling && len(plan.Stops) < maxStops; iter++ {
		best := -1
		var bestScore, bestDist float64
		for i := range pool {
			c := &pool[i]
			if used[i] || c.Position == nil || c.Quantity <= 0 || c.Quantity > plan.RemainingCapacity {
				continue
			}
			dist := location.HaversineKm(current, *c.Position)
			score := dist / (1 + float64(c.Priority)/b.cfg.PriorityDivisor)
			if best < 0 || score < bestScore {
				best, bestScore, bestDist = i, score, dist
			}
		}
		if best < 0 {
			break
		}

		c := &pool[best]
		used[best] = true
		plan.RemainingCapacity -= c.Quantity
		plan.TotalDistanceKm += bestDist
		current = *c.Position
		plan.Stops = append(plan.Stops, PlannedStop{
			DemandID:           c.ID,
			Order:              len(plan.Stops) + 1,
			PlannedQuantity:    c.Quantity,
			DistanceFromPrevKm: bestDist,
			Position:           *c.Position,
			Priority:           c.Priority,
		})
	}
	return plan
}

// Without drops the given demands from the plan, keeping visit order, and
// recomputes order numbers, leg distances and remaining capacity.
func (p Plan) Without(lost map[types.ID]bool, start types.Point) Plan {
	out := Plan{Capacity: p.Capacity, RemainingCapacity: p.Capacity}
	current := start
	for _, st := range p.Stops {
		if lost[st.DemandID] {
			continue
		}
		st.Order = len(out.Stops) + 1
		st.DistanceFromPrevKm = location.HaversineKm(current, st.Position)
		out.TotalDistanceKm += st.DistanceFromPrevKm
		out.RemainingCapacity -= st.PlannedQuantity
		current = st.Position
		out.Stops = append(out.Stops, st)
	}
	return out
}
