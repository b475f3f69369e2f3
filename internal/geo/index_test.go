package geo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/fairmatch/internal/model"
)

type memStore struct {
	mu   sync.Mutex
	locs map[int64]model.ProviderLocation

	boxQueries int
}

func newMemStore() *memStore {
	return &memStore{locs: make(map[int64]model.ProviderLocation)}
}

func (s *memStore) UpsertLocation(ctx context.Context, loc model.ProviderLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locs[loc.ProviderID] = loc
	return nil
}

func (s *memStore) LocationsInBox(ctx context.Context, box Box) ([]model.ProviderLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boxQueries++
	var res []model.ProviderLocation
	for _, l := range s.locs {
		if box.Contains(Point{Lat: l.Latitude, Lon: l.Longitude}) {
			res = append(res, l)
		}
	}
	return res, nil
}

func (s *memStore) LocationsByProviders(ctx context.Context, ids []int64) ([]model.ProviderLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.ProviderLocation
	for _, id := range ids {
		if l, ok := s.locs[id]; ok {
			res = append(res, l)
		}
	}
	return res, nil
}

func (s *memStore) ListLocations(ctx context.Context) ([]model.ProviderLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]model.ProviderLocation, 0, len(s.locs))
	for _, l := range s.locs {
		res = append(res, l)
	}
	return res, nil
}

type stubCache struct {
	added      []model.ProviderLocation
	candidates []int64
	err        error
	replaced   []model.ProviderLocation
}

func (c *stubCache) Add(ctx context.Context, loc model.ProviderLocation) error {
	c.added = append(c.added, loc)
	return c.err
}

func (c *stubCache) Candidates(ctx context.Context, center Point, radius float64) ([]int64, error) {
	return c.candidates, c.err
}

func (c *stubCache) Replace(ctx context.Context, locs []model.ProviderLocation) error {
	c.replaced = locs
	return c.err
}

var tunis = Point{Lat: 36.8, Lon: 10.18}

func TestFindNearby_HaversineRadius(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(newMemStore(), nil, nil)

	near := Destination(tunis, 90, 4000)
	far := Destination(tunis, 0, 6000)

	_, err := idx.UpsertLocation(ctx, 1, near.Lat, near.Lon)
	require.NoError(t, err)
	_, err = idx.UpsertLocation(ctx, 2, far.Lat, far.Lon)
	require.NoError(t, err)

	res, err := idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 5000)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, int64(1), res[0].ProviderID)
	assert.InDelta(t, 4000, res[0].DistanceMeters, 0.5)
}

func TestFindNearby_SortedByDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(newMemStore(), nil, nil)

	for id, d := range map[int64]float64{10: 3000, 11: 1000, 12: 2000} {
		p := Destination(tunis, 180, d)
		_, err := idx.UpsertLocation(ctx, id, p.Lat, p.Lon)
		require.NoError(t, err)
	}

	res, err := idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 5000)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []int64{11, 12, 10}, []int64{res[0].ProviderID, res[1].ProviderID, res[2].ProviderID})
}

func TestUpsertLocation_KeepsLatestOnly(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	idx := NewIndex(store, nil, nil)

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx.now = func() time.Time { return first }
	_, err := idx.UpsertLocation(ctx, 7, 36.8, 10.18)
	require.NoError(t, err)

	idx.now = func() time.Time { return first.Add(time.Minute) }
	_, err = idx.UpsertLocation(ctx, 7, 35.0, 9.5)
	require.NoError(t, err)

	all, err := store.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 35.0, all[0].Latitude)
	assert.Equal(t, 9.5, all[0].Longitude)
	assert.Equal(t, first.Add(time.Minute), all[0].LastUpdated)

	res, err := idx.FindNearby(ctx, 36.8, 10.18, 1000)
	require.NoError(t, err)
	assert.Empty(t, res, "old coordinate must not be searchable")
}

func TestIndex_Validation(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(newMemStore(), nil, nil)

	_, err := idx.UpsertLocation(ctx, 1, 91, 0)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = idx.UpsertLocation(ctx, 1, 0, -181)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = idx.FindNearby(ctx, 36.8, 10.18, 0)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = idx.FindNearby(ctx, 36.8, 10.18, -5)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = idx.FindNearby(ctx, -90.5, 10.18, 5)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestFindNearby_UsesCacheCandidates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := &stubCache{}
	idx := NewIndex(store, cache, nil)

	near := Destination(tunis, 45, 1500)
	_, err := idx.UpsertLocation(ctx, 3, near.Lat, near.Lon)
	require.NoError(t, err)
	require.Len(t, cache.added, 1)

	// Кэш может вернуть устаревшего кандидата: точная проверка его отбрасывает.
	farAway := Destination(tunis, 0, 50000)
	_, err = idx.UpsertLocation(ctx, 4, farAway.Lat, farAway.Lon)
	require.NoError(t, err)
	require.NoError(t, idx.Reconcile(ctx))
	cache.candidates = []int64{3, 4, 99}

	res, err := idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 2000)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, int64(3), res[0].ProviderID)
	assert.Zero(t, store.boxQueries)
}

func TestFindNearby_CacheFailureFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := &stubCache{}
	idx := NewIndex(store, cache, nil)
	require.NoError(t, idx.Reconcile(ctx))

	cache.err = errors.New("connection refused")
	_, err := idx.UpsertLocation(ctx, 5, tunis.Lat, tunis.Lon)
	require.NoError(t, err, "cache errors must not fail the upsert")

	res, err := idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 100)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, store.boxQueries)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := &stubCache{}
	idx := NewIndex(store, cache, nil)

	_, err := idx.UpsertLocation(ctx, 1, 10, 10)
	require.NoError(t, err)
	_, err = idx.UpsertLocation(ctx, 2, 20, 20)
	require.NoError(t, err)

	require.NoError(t, idx.Reconcile(ctx))
	assert.Len(t, cache.replaced, 2)

	assert.NoError(t, NewIndex(store, nil, nil).Reconcile(ctx), "reconcile without cache is a no-op")
}

// radiusCache хранит точки в памяти и отбирает кандидатов по радиусу, как GEO-множество Redis.
type radiusCache struct {
	mu        sync.Mutex
	points    map[int64]Point
	addErr    error
	replaces  int
	onReplace func()
}

func newRadiusCache() *radiusCache {
	return &radiusCache{points: make(map[int64]Point)}
}

func (c *radiusCache) Add(ctx context.Context, loc model.ProviderLocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addErr != nil {
		return c.addErr
	}
	c.points[loc.ProviderID] = Point{Lat: loc.Latitude, Lon: loc.Longitude}
	return nil
}

func (c *radiusCache) Candidates(ctx context.Context, center Point, radius float64) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int64
	for id, p := range c.points {
		if Distance(center, p) <= radius {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *radiusCache) Replace(ctx context.Context, locs []model.ProviderLocation) error {
	if c.onReplace != nil {
		c.onReplace()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaces++
	c.points = make(map[int64]Point, len(locs))
	for _, l := range locs {
		c.points[l.ProviderID] = Point{Lat: l.Latitude, Lon: l.Longitude}
	}
	return nil
}

func TestFindNearby_FailedCacheAddUsesStoreUntilReconcile(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newRadiusCache()
	idx := NewIndex(store, cache, nil)

	far := Destination(tunis, 90, 50000)
	_, err := idx.UpsertLocation(ctx, 7, far.Lat, far.Lon)
	require.NoError(t, err)
	require.NoError(t, idx.Reconcile(ctx))

	res, err := idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 5000)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Zero(t, store.boxQueries, "ready cache must answer")

	cache.addErr = errors.New("redis timeout")
	near := Destination(tunis, 90, 4000)
	_, err = idx.UpsertLocation(ctx, 7, near.Lat, near.Lon)
	require.NoError(t, err)

	res, err = idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 5000)
	require.NoError(t, err)
	require.Len(t, res, 1, "provider inside the radius must be found after a failed cache write")
	assert.Equal(t, int64(7), res[0].ProviderID)
	assert.Equal(t, 1, store.boxQueries)

	cache.addErr = nil
	require.NoError(t, idx.Reconcile(ctx))

	res, err = idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 5000)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, store.boxQueries, "cache must be used again after reconcile")
}

func TestFindNearby_CacheUnusedBeforeFirstReconcile(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	idx := NewIndex(store, newRadiusCache(), nil)

	_, err := idx.UpsertLocation(ctx, 1, tunis.Lat, tunis.Lon)
	require.NoError(t, err)

	res, err := idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 100)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, store.boxQueries)
}

func TestReconcile_RetriesWhenCacheChangesDuringRebuild(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newRadiusCache()
	idx := NewIndex(store, cache, nil)

	near := Destination(tunis, 180, 3000)
	once := sync.Once{}
	cache.onReplace = func() {
		once.Do(func() {
			_, err := idx.UpsertLocation(ctx, 9, near.Lat, near.Lon)
			require.NoError(t, err)
		})
	}

	require.NoError(t, idx.Reconcile(ctx))
	assert.Equal(t, 2, cache.replaces)

	res, err := idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 5000)
	require.NoError(t, err)
	require.Len(t, res, 1, "location written during reconcile must stay searchable")
	assert.Equal(t, int64(9), res[0].ProviderID)
	assert.Zero(t, store.boxQueries)
}

func TestReconcile_GivesUpWhenCacheNeverSettles(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newRadiusCache()
	idx := NewIndex(store, cache, nil)

	var n int64
	cache.onReplace = func() {
		n++
		_, err := idx.UpsertLocation(ctx, n, tunis.Lat, tunis.Lon)
		require.NoError(t, err)
	}

	assert.Error(t, idx.Reconcile(ctx))
	assert.Equal(t, reconcileAttempts, cache.replaces)

	res, err := idx.FindNearby(ctx, tunis.Lat, tunis.Lon, 100)
	require.NoError(t, err)
	assert.Len(t, res, reconcileAttempts)
	assert.Equal(t, 1, store.boxQueries, "unsettled cache must not answer")
}

func TestUpsertLocation_ConcurrentKeepsStoreAndCacheInStep(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newRadiusCache()
	idx := NewIndex(store, cache, nil)
	require.NoError(t, idx.Reconcile(ctx))

	var wg sync.WaitGroup
	for k := 0; k < 20; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			p := Destination(tunis, float64(k*18), float64(1000+k*500))
			_, err := idx.UpsertLocation(ctx, 42, p.Lat, p.Lon)
			assert.NoError(t, err)
		}(k)
	}
	wg.Wait()

	all, err := store.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	cache.mu.Lock()
	cached := cache.points[42]
	cache.mu.Unlock()
	assert.Equal(t, Point{Lat: all[0].Latitude, Lon: all[0].Longitude}, cached)
}
