package demand

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourdispatch/internal/testutil"
	"tourdispatch/internal/types"
)

func newDBService(t *testing.T) (*Service, *Store, *pgxpool.Pool) {
	db := testutil.NewPool(t)
	store := NewStore(db)
	return NewService(store, NewScorer(DefaultWeights()), MaintenanceConfig{RetentionDays: 90}, nil), store, db
}

func TestIngest_CreateUpdateInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newDBService(t)
	pos := &types.Point{Lat: 52.52, Lng: 13.405}

	res, err := svc.Ingest(ctx, []IngestCommand{
		{ExternalID: "ext-1", SiteID: "s-1", Position: pos, Quantity: 1000},
		{ExternalID: "ext-2", SiteID: "s-2", Quantity: 500},
		{ExternalID: "", SiteID: "s-3", Position: pos, Quantity: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Created: 2, Invalid: 1}, res)

	res, err = svc.Ingest(ctx, []IngestCommand{
		{ExternalID: "ext-1", SiteID: "s-1", Position: pos, Quantity: 1500},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	ds, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, ds, 2)
}

func TestEligible_SkipsUnlocatedAndAssigned(t *testing.T) {
	ctx := context.Background()
	svc, store, db := newDBService(t)
	pos := &types.Point{Lat: 52.52, Lng: 13.405}

	_, err := svc.Ingest(ctx, []IngestCommand{
		{ExternalID: "located", SiteID: "s-1", Position: pos, Quantity: 1000},
		{ExternalID: "unlocated", SiteID: "s-2", Quantity: 1000},
		{ExternalID: "assigned", SiteID: "s-3", Position: pos, Quantity: 1000},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = db.Exec(ctx, `INSERT INTO drivers (id, vehicle_capacity, max_stops_per_tour, max_daily_tours) VALUES ('drv-1', 3200, 10, 2)`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `
		INSERT INTO tours (id, driver_id, tour_date, status, vehicle_capacity, remaining_capacity, start_lat, start_lng, created_at)
		VALUES ('t-1', 'drv-1', CURRENT_DATE, 'PLANNED', 3200, 2200, 52.5, 13.4, $1)`, now)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `UPDATE demands SET status = 'SCHEDULED', tour_id = 't-1', driver_id = 'drv-1', assigned_date = CURRENT_DATE WHERE external_id = 'assigned'`)
	require.NoError(t, err)

	pool, err := store.Eligible(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, "located", pool[0].ExternalID)

	snapshot, err := svc.Eligible(ctx, 100)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.True(t, snapshot[0].Eligible())
	assert.True(t, snapshot[0].Consistent())

	// An assigned demand is not overwritten by the feed.
	res, err := svc.Ingest(ctx, []IngestCommand{
		{ExternalID: "assigned", SiteID: "s-3", Position: pos, Quantity: 9999},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
}

func TestConfirmAndCancel(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newDBService(t)

	_, err := svc.Ingest(ctx, []IngestCommand{
		{ExternalID: "ext-1", SiteID: "s-1", Position: &types.Point{Lat: 1, Lng: 1}, Quantity: 100},
	})
	require.NoError(t, err)
	ds, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	id := ds[0].ID

	require.NoError(t, svc.Confirm(ctx, StatusCommand{DemandID: id}))
	require.NoError(t, svc.Cancel(ctx, StatusCommand{DemandID: id}))
	assert.ErrorIs(t, svc.Confirm(ctx, StatusCommand{DemandID: id}), ErrInvalidState)

	d, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, d.Status)
}

func TestMaintain_RescoresExpiresAndPurges(t *testing.T) {
	ctx := context.Background()
	svc, _, db := newDBService(t)
	pos := &types.Point{Lat: 1, Lng: 1}
	past := time.Now().Add(-48 * time.Hour)

	_, err := svc.Ingest(ctx, []IngestCommand{
		{ExternalID: "fresh", SiteID: "s-1", Position: pos, Quantity: 1000},
		{ExternalID: "overdue", SiteID: "s-2", Position: pos, Quantity: 1000, DeadlineAt: &past},
		{ExternalID: "old", SiteID: "s-3", Position: pos, Quantity: 1000},
	})
	require.NoError(t, err)

	// Make "fresh" look old so its age factor rises, and "old" a long-terminal row.
	_, err = db.Exec(ctx, `UPDATE demands SET requested_at = NOW() - INTERVAL '20 days', priority = 0 WHERE external_id = 'fresh'`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `UPDATE demands SET status = 'CANCELED', updated_at = NOW() - INTERVAL '200 days' WHERE external_id = 'old'`)
	require.NoError(t, err)

	svc.Maintain(ctx)

	ds, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	byExt := map[string]Demand{}
	for _, d := range ds {
		byExt[d.ExternalID] = d
	}
	require.Len(t, byExt, 2)
	assert.Greater(t, byExt["fresh"].Priority, 0)
	assert.Equal(t, StatusExpired, byExt["overdue"].Status)
	_, purged := byExt["old"]
	assert.False(t, purged)
}

func TestMaintain_OverdueWithinGraceStaysSchedulable(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewPool(t)
	store := NewStore(db)
	svc := NewService(store, NewScorer(DefaultWeights()), MaintenanceConfig{ExpireGraceDays: 7}, nil)
	pos := &types.Point{Lat: 1, Lng: 1}
	threeDaysAgo := time.Now().Add(-72 * time.Hour)
	monthAgo := time.Now().Add(-30 * 24 * time.Hour)

	_, err := svc.Ingest(ctx, []IngestCommand{
		{ExternalID: "no-deadline", SiteID: "s-1", Position: pos, Quantity: 1000},
		{ExternalID: "slightly-overdue", SiteID: "s-2", Position: pos, Quantity: 1000, DeadlineAt: &threeDaysAgo},
		{ExternalID: "long-overdue", SiteID: "s-3", Position: pos, Quantity: 1000, DeadlineAt: &monthAgo},
	})
	require.NoError(t, err)

	svc.Maintain(ctx)

	pool, err := svc.Eligible(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pool, 2)
	assert.Equal(t, "slightly-overdue", pool[0].ExternalID)
	assert.Greater(t, pool[0].Priority, pool[1].Priority)

	ds, err := svc.List(ctx, Filter{Status: StatusExpired})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "long-overdue", ds[0].ExternalID)
}

func TestIngest_ResyncWithoutRequestedAtKeepsAge(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newDBService(t)
	pos := &types.Point{Lat: 1, Lng: 1}
	requested := time.Now().Add(-20 * 24 * time.Hour)

	_, err := svc.Ingest(ctx, []IngestCommand{
		{ExternalID: "ext-1", SiteID: "s-1", Position: pos, Quantity: 1000, RequestedAt: requested},
	})
	require.NoError(t, err)
	ds, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	first := ds[0]

	res, err := svc.Ingest(ctx, []IngestCommand{
		{ExternalID: "ext-1", SiteID: "s-1", Position: pos, Quantity: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	d, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, requested, d.RequestedAt, time.Second)
	assert.Equal(t, first.Priority, d.Priority)
}
