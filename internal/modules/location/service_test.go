package location

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourdispatch/internal/types"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewService(NewStore(rdb), nil), mr
}

func TestUpdateAndLastKnown(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Update(ctx, UpdateCommand{DriverID: "d1", Position: types.Point{Lat: 48.1371, Lng: 11.5754}})
	require.NoError(t, err)

	p, ok, err := svc.LastKnown(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 48.1371, p.Lat, 0.001)
	assert.InDelta(t, 11.5754, p.Lng, 0.001)
}

func TestLastKnown_Missing(t *testing.T) {
	svc, _ := newTestService(t)

	_, ok, err := svc.LastKnown(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastKnown_Stale(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	past := time.Now().Add(-2 * MaxStaleness)
	svc.now = func() time.Time { return past }
	require.NoError(t, svc.Update(ctx, UpdateCommand{DriverID: "d1", Position: types.Point{Lat: 1, Lng: 1}}))

	svc.now = time.Now
	_, ok, err := svc.LastKnown(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Update(ctx, UpdateCommand{DriverID: "", Position: types.Point{}}), ErrBadRequest)
	assert.ErrorIs(t, svc.Update(ctx, UpdateCommand{DriverID: "d1", Position: types.Point{Lat: 91, Lng: 0}}), ErrBadRequest)
}

func TestClear(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Update(ctx, UpdateCommand{DriverID: "d1", Position: types.Point{Lat: 1, Lng: 1}}))
	require.NoError(t, svc.Clear(ctx, "d1"))

	_, ok, err := svc.LastKnown(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNearby_RejectsInvalidQuery(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Nearby(ctx, types.Point{Lat: 95, Lng: 0}, 5, 10)
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = svc.Nearby(ctx, types.Point{Lat: 1, Lng: 1}, 0, 10)
	assert.ErrorIs(t, err, ErrBadRequest)
}
