package geo

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/fairmatch/internal/model"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb), rdb
}

func TestRedisCache_AddOverwrites(t *testing.T) {
	cache, rdb := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, model.ProviderLocation{ProviderID: 7, Latitude: 36.8, Longitude: 10.18}))
	require.NoError(t, cache.Add(ctx, model.ProviderLocation{ProviderID: 7, Latitude: 48.85, Longitude: 2.35}))

	n, err := rdb.ZCard(ctx, redisGeoKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pos, err := rdb.GeoPos(ctx, redisGeoKey, "7").Result()
	require.NoError(t, err)
	require.Len(t, pos, 1)
	require.NotNil(t, pos[0])
	assert.InDelta(t, 48.85, pos[0].Latitude, 1e-4)
	assert.InDelta(t, 2.35, pos[0].Longitude, 1e-4)
}

func TestRedisCache_AddPolarRemovesMember(t *testing.T) {
	cache, rdb := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, model.ProviderLocation{ProviderID: 3, Latitude: 60, Longitude: 10}))
	require.NoError(t, cache.Add(ctx, model.ProviderLocation{ProviderID: 3, Latitude: 89, Longitude: 10}))

	n, err := rdb.ZCard(ctx, redisGeoKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "polar point must not stay in the cache")
}

func TestRedisCache_Replace(t *testing.T) {
	cache, rdb := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, model.ProviderLocation{ProviderID: 99, Latitude: 10, Longitude: 10}))

	err := cache.Replace(ctx, []model.ProviderLocation{
		{ProviderID: 1, Latitude: 36.8, Longitude: 10.18},
		{ProviderID: 2, Latitude: 36.81, Longitude: 10.19},
		{ProviderID: 3, Latitude: -88, Longitude: 0},
	})
	require.NoError(t, err)

	members, err := rdb.ZRange(ctx, redisGeoKey, 0, -1).Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, members)

	exists, err := rdb.Exists(ctx, redisGeoKey+":rebuild").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisCache_ReplaceWithNothingClears(t *testing.T) {
	cache, rdb := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, model.ProviderLocation{ProviderID: 1, Latitude: 10, Longitude: 10}))
	require.NoError(t, cache.Replace(ctx, nil))

	exists, err := rdb.Exists(ctx, redisGeoKey).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisCache_CandidatesNearPoleMiss(t *testing.T) {
	cache, _ := newTestRedisCache(t)

	_, err := cache.Candidates(context.Background(), Point{Lat: 85.04, Lon: 0}, 5000)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_CandidatesWithinRadius(t *testing.T) {
	cache, rdb := newTestRedisCache(t)
	ctx := context.Background()

	near := Destination(tunis, 90, 4000)
	edge := Destination(tunis, 0, 5020)
	far := Destination(tunis, 180, 6000)
	for id, p := range map[int64]Point{1: near, 2: edge, 3: far} {
		require.NoError(t, cache.Add(ctx, model.ProviderLocation{ProviderID: id, Latitude: p.Lat, Longitude: p.Lon}))
	}
	require.NoError(t, rdb.GeoAdd(ctx, redisGeoKey, &redis.GeoLocation{Name: "not-a-provider", Latitude: tunis.Lat, Longitude: tunis.Lon}).Err())

	ids, err := cache.Candidates(ctx, tunis, 5000)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, ids, "slack keeps the edge point, the 6000 m point is left out")
}

func TestIndex_FindNearbyThroughRedisCache(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	ctx := context.Background()
	store := newMemStore()
	idx := NewIndex(store, cache, nil)

	near := Destination(tunis, 90, 4000)
	edge := Destination(tunis, 0, 5020)
	far := Destination(tunis, 180, 6000)
	for id, p := range map[int64]Point{1: near, 2: edge, 3: far} {
		_, err := idx.UpsertLocation(ctx, id, p.Lat, p.Lon)
		require.NoError(t, err)
	}
	require.NoError(t, idx.Reconcile(ctx))

	res, err := idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 5000)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, int64(1), res[0].ProviderID)
	assert.InDelta(t, 4000, res[0].DistanceMeters, 0.5)
	assert.Zero(t, store.boxQueries, "search must go through the cache")
}
