package tour

import (
	"context"
	"sync"
	"time"

	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/types"
)

// memRepo is an in-memory Repository and DemandPool with the same claim semantics as the Postgres store.
type memRepo struct {
	mu      sync.Mutex
	tours   map[types.ID]*Tour
	demands map[types.ID]*demand.Demand
	order   []types.ID
	events  []Event
}

func newMemRepo(ds ...demand.Demand) *memRepo {
	r := &memRepo{tours: map[types.ID]*Tour{}, demands: map[types.ID]*demand.Demand{}}
	for i := range ds {
		d := ds[i]
		r.demands[d.ID] = &d
		r.order = append(r.order, d.ID)
	}
	return r
}

func cloneTour(t *Tour) *Tour {
	c := *t
	c.Stops = append([]Stop(nil), t.Stops...)
	return &c
}

func (r *memRepo) demand(id types.ID) demand.Demand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.demands[id]
}

func (r *memRepo) Eligible(_ context.Context, limit int) ([]demand.Demand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []demand.Demand
	for _, id := range r.order {
		d := r.demands[id]
		if d.Eligible() && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memRepo) Get(_ context.Context, id types.ID) (*Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tours[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTour(t), nil
}

func (r *memRepo) Active(_ context.Context, driverID types.ID, date time.Time) (*Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tours {
		if t.DriverID == driverID && t.Date.Equal(date) && t.Status.Active() {
			return cloneTour(t), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) CountForDay(_ context.Context, driverID types.ID, date time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tours {
		if t.DriverID == driverID && t.Date.Equal(date) && t.Status != StatusCanceled {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) ListByDate(_ context.Context, date time.Time) ([]Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Tour
	for _, t := range r.tours {
		if t.Date.Equal(date) {
			out = append(out, *cloneTour(t))
		}
	}
	return out, nil
}

func (r *memRepo) CreateWithClaims(_ context.Context, d Draft) (*Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tours {
		if t.DriverID == d.DriverID && t.Date.Equal(d.Date) && t.Status.Active() {
			return nil, ErrActiveTourExists
		}
	}

	lost := map[types.ID]bool{}
	for _, st := range d.Plan.Stops {
		dm := r.demands[st.DemandID]
		if dm == nil || !dm.Eligible() || dm.Quantity != st.PlannedQuantity {
			lost[st.DemandID] = true
		}
	}
	plan := d.Plan.Without(lost, d.Start)
	if len(plan.Stops) == 0 {
		return nil, ErrNoStops
	}

	t := &Tour{
		ID:                d.TourID,
		DriverID:          d.DriverID,
		Date:              d.Date,
		Status:            StatusPlanned,
		VehicleCapacity:   plan.Capacity,
		TotalDistanceKm:   plan.TotalDistanceKm,
		RemainingCapacity: plan.RemainingCapacity,
		StartPosition:     d.Start,
		CreatedAt:         d.Now,
	}
	for _, ps := range plan.Stops {
		t.Stops = append(t.Stops, Stop{
			ID:                 types.NewID(),
			TourID:             t.ID,
			DemandID:           ps.DemandID,
			Order:              ps.Order,
			PlannedQuantity:    ps.PlannedQuantity,
			Status:             StopScheduled,
			DistanceFromPrevKm: ps.DistanceFromPrevKm,
			Position:           ps.Position,
		})
		dm := r.demands[ps.DemandID]
		dm.Status = demand.StatusScheduled
		dm.Assignment = &demand.Assignment{DriverID: d.DriverID, TourID: t.ID, Date: d.Date}
	}
	r.tours[t.ID] = t
	return cloneTour(t), nil
}

func (r *memRepo) UpdateStatus(_ context.Context, t *Tour, from Status, version int, e *Event) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tours[t.ID]
	if !ok || cur.Status != from || cur.StatusVersion != version {
		return false, nil
	}
	next := cloneTour(t)
	next.StatusVersion = version + 1
	r.tours[t.ID] = next
	r.events = append(r.events, *e)
	return true, nil
}

func (r *memRepo) SaveStopTransition(_ context.Context, t *Tour, version int, out StopOutcome, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tours[t.ID]
	if !ok || cur.StatusVersion != version {
		return ErrConflict
	}
	next := cloneTour(t)
	next.StatusVersion = version + 1
	r.tours[t.ID] = next

	dm := r.demands[out.Stop.DemandID]
	if dm.Assignment != nil && dm.Assignment.TourID == t.ID {
		status, keep := demand.StatusForStop(string(out.Stop.Status))
		dm.Status = status
		if !keep {
			dm.Assignment = nil
		}
	}
	r.events = append(r.events, *e)
	return nil
}

func (r *memRepo) Cancel(_ context.Context, t *Tour, from Status, version int, release []types.ID, e *Event) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tours[t.ID]
	if !ok || cur.Status != from || cur.StatusVersion != version {
		return false, nil
	}
	next := cloneTour(t)
	next.StatusVersion = version + 1
	r.tours[t.ID] = next
	for _, id := range release {
		dm := r.demands[id]
		if dm.Assignment != nil && dm.Assignment.TourID == t.ID {
			dm.Status = demand.StatusConfirmed
			dm.Assignment = nil
		}
	}
	r.events = append(r.events, *e)
	return true, nil
}

type memFleet map[types.ID]*fleet.Driver

func (f memFleet) Driver(_ context.Context, id types.ID) (*fleet.Driver, error) {
	d, ok := f[id]
	if !ok {
		return nil, fleet.ErrNotFound
	}
	c := *d
	return &c, nil
}

type fixedPositions map[types.ID]types.Point

func (p fixedPositions) LastKnown(_ context.Context, id types.ID) (types.Point, bool, error) {
	pt, ok := p[id]
	return pt, ok, nil
}
