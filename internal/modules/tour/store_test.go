// README: Postgres-backed tests for tour creation, claims and cancel (run with -race).
package tour

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/testutil"
	"tourdispatch/internal/types"
)

type dbFixture struct {
	db      *pgxpool.Pool
	store   *Store
	demands *demand.Service
	fleet   *fleet.Service
	svc     *Service
}

func setupDB(t *testing.T) *dbFixture {
	db := testutil.NewPool(t)
	f := &dbFixture{
		db:      db,
		store:   NewStore(db),
		demands: demand.NewService(demand.NewStore(db), demand.NewScorer(demand.DefaultWeights()), demand.MaintenanceConfig{}, nil),
		fleet:   fleet.NewService(fleet.NewStore(db)),
	}
	f.svc = NewService(Deps{Repo: f.store, Pool: f.demands, Fleet: f.fleet}, Config{})
	return f
}

func (f *dbFixture) driver(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.fleet.Upsert(context.Background(), &fleet.Driver{
		ID: types.ID(id), Active: true, VehicleCapacity: 3200, MaxStopsPerTour: 10, MaxDailyTours: 2,
		HomeBase: &types.Point{Lat: 52.5, Lng: 13.4},
	}))
}

func (f *dbFixture) demand(t *testing.T, ext string, qty float64) {
	t.Helper()
	res, err := f.demands.Ingest(context.Background(), []demand.IngestCommand{{
		ExternalID: ext, SiteID: "site-" + ext, Position: &types.Point{Lat: 52.51, Lng: 13.41}, Quantity: qty,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
}

func TestDB_RequestTourClaimsDemands(t *testing.T) {
	ctx := context.Background()
	f := setupDB(t)
	f.driver(t, "drv-1")
	f.demand(t, "a", 1000)
	f.demand(t, "b", 1000)

	res, err := f.svc.RequestTour(ctx, RequestCommand{DriverID: "drv-1"})
	require.NoError(t, err)
	require.NotNil(t, res.Tour)
	assert.Len(t, res.Tour.Stops, 2)
	assert.Equal(t, 1200.0, res.Tour.RemainingCapacity)

	got, err := f.store.Get(ctx, res.Tour.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPlanned, got.Status)
	require.Len(t, got.Stops, 2)

	for _, st := range got.Stops {
		d, err := f.demands.Get(ctx, st.DemandID)
		require.NoError(t, err)
		assert.Equal(t, demand.StatusScheduled, d.Status)
		require.NotNil(t, d.Assignment)
		assert.Equal(t, res.Tour.ID, d.Assignment.TourID)
	}

	again, err := f.svc.RequestTour(ctx, RequestCommand{DriverID: "drv-1"})
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, res.Tour.ID, again.Tour.ID)
}

func TestDB_ConcurrentDriversContendForOneDemand(t *testing.T) {
	ctx := context.Background()
	f := setupDB(t)
	f.demand(t, "only", 1000)
	const drivers = 4
	for i := 0; i < drivers; i++ {
		f.driver(t, fmt.Sprintf("drv-%d", i))
	}

	var wg sync.WaitGroup
	results := make(chan RequestResult, drivers)
	errs := make(chan error, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.svc.RequestTour(ctx, RequestCommand{DriverID: types.ID(id)})
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}(fmt.Sprintf("drv-%d", i))
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	won := 0
	for res := range results {
		if res.Tour != nil {
			won++
			continue
		}
		assert.Equal(t, ReasonNoEligibleDemand, res.Reason)
	}
	assert.Equal(t, 1, won)

	var assigned int
	require.NoError(t, f.db.QueryRow(ctx, `SELECT COUNT(*) FROM tour_stops`).Scan(&assigned))
	assert.Equal(t, 1, assigned)
}

func TestDB_SecondActiveTourRejected(t *testing.T) {
	ctx := context.Background()
	f := setupDB(t)
	f.driver(t, "drv-1")
	f.demand(t, "a", 1000)
	f.demand(t, "b", 1000)

	pool, err := f.demands.Eligible(ctx, 10)
	require.NoError(t, err)
	start := types.Point{Lat: 52.5, Lng: 13.4}
	b := NewBuilder(DefaultBuildConfig())
	date := DateOf(f.svc.now())

	_, err = f.store.CreateWithClaims(ctx, Draft{
		TourID: types.NewID(), DriverID: "drv-1", Date: date, Start: start,
		Plan: b.Build(start, 3200, 1, pool[:1]), Now: f.svc.now(),
	})
	require.NoError(t, err)

	_, err = f.store.CreateWithClaims(ctx, Draft{
		TourID: types.NewID(), DriverID: "drv-1", Date: date, Start: start,
		Plan: b.Build(start, 3200, 1, pool[1:]), Now: f.svc.now(),
	})
	assert.True(t, errors.Is(err, ErrActiveTourExists), "got %v", err)

	// The rolled-back attempt must not have claimed its demand.
	d, err := f.demands.Get(ctx, pool[1].ID)
	require.NoError(t, err)
	assert.Nil(t, d.Assignment)
}

func TestDB_StopsAndCancelReleaseDemands(t *testing.T) {
	ctx := context.Background()
	f := setupDB(t)
	f.driver(t, "drv-1")
	f.demand(t, "a", 1000)
	f.demand(t, "b", 1000)

	res, err := f.svc.RequestTour(ctx, RequestCommand{DriverID: "drv-1"})
	require.NoError(t, err)
	require.Len(t, res.Tour.Stops, 2)
	first, second := res.Tour.Stops[0], res.Tour.Stops[1]

	tr, err := f.svc.CompleteStop(ctx, StopCommand{TourID: res.Tour.ID, StopID: first.ID, ActorID: "drv-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, tr.Status)

	d, err := f.demands.Get(ctx, first.DemandID)
	require.NoError(t, err)
	assert.Equal(t, demand.StatusCompleted, d.Status)

	tr, err = f.svc.CancelTour(ctx, CancelCommand{TourID: res.Tour.ID, ActorType: "dispatcher", Reason: "vehicle breakdown"})
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, tr.Status)

	d, err = f.demands.Get(ctx, second.DemandID)
	require.NoError(t, err)
	assert.Equal(t, demand.StatusConfirmed, d.Status)
	assert.Nil(t, d.Assignment)

	var events int
	require.NoError(t, f.db.QueryRow(ctx, `SELECT COUNT(*) FROM tour_events WHERE tour_id = $1`, string(res.Tour.ID)).Scan(&events))
	assert.Equal(t, 3, events)
}

func TestDB_RetentionPurgesFinishedToursAndTheirDemands(t *testing.T) {
	ctx := context.Background()
	f := setupDB(t)
	f.driver(t, "drv-1")
	f.driver(t, "drv-2")
	f.demand(t, "old", 1000)

	old, err := f.svc.RequestTour(ctx, RequestCommand{DriverID: "drv-1"})
	require.NoError(t, err)
	require.Len(t, old.Tour.Stops, 1)
	oldStop := old.Tour.Stops[0]
	tr, err := f.svc.CompleteStop(ctx, StopCommand{TourID: old.Tour.ID, StopID: oldStop.ID, ActorID: "drv-1"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, tr.Status)

	f.demand(t, "recent", 1000)
	recent, err := f.svc.RequestTour(ctx, RequestCommand{DriverID: "drv-2"})
	require.NoError(t, err)
	require.Len(t, recent.Tour.Stops, 1)
	_, err = f.svc.CompleteStop(ctx, StopCommand{TourID: recent.Tour.ID, StopID: recent.Tour.Stops[0].ID, ActorID: "drv-2"})
	require.NoError(t, err)

	_, err = f.db.Exec(ctx, `UPDATE tours SET completed_at = NOW() - INTERVAL '120 days' WHERE id = $1`, string(old.Tour.ID))
	require.NoError(t, err)
	_, err = f.db.Exec(ctx, `UPDATE demands SET updated_at = NOW() - INTERVAL '120 days' WHERE id = $1`, string(oldStop.DemandID))
	require.NoError(t, err)

	retention := demand.NewService(demand.NewStore(f.db), demand.NewScorer(demand.DefaultWeights()),
		demand.MaintenanceConfig{RetentionDays: 90, ExpireGraceDays: 7}, nil)
	retention.Maintain(ctx)

	_, err = f.demands.Get(ctx, oldStop.DemandID)
	assert.ErrorIs(t, err, demand.ErrNotFound)
	_, err = f.store.Get(ctx, old.Tour.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	kept, err := f.demands.Get(ctx, recent.Tour.Stops[0].DemandID)
	require.NoError(t, err)
	assert.Equal(t, demand.StatusCompleted, kept.Status)
	_, err = f.store.Get(ctx, recent.Tour.ID)
	assert.NoError(t, err)
}
