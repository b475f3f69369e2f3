package geo

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/fairmatch/internal/model"
	"github.com/mmeshcher/fairmatch/internal/validation"
)

// Store хранит авторитетные координаты исполнителей.
type Store interface {
	UpsertLocation(ctx context.Context, loc model.ProviderLocation) error
	LocationsInBox(ctx context.Context, box Box) ([]model.ProviderLocation, error)
	LocationsByProviders(ctx context.Context, providerIDs []int64) ([]model.ProviderLocation, error)
	ListLocations(ctx context.Context) ([]model.ProviderLocation, error)
}

// Cache возвращает кандидатов для поиска по радиусу. Индекс необязателен.
type Cache interface {
	Add(ctx context.Context, loc model.ProviderLocation) error
	Candidates(ctx context.Context, center Point, radius float64) ([]int64, error)
	Replace(ctx context.Context, locs []model.ProviderLocation) error
}

const (
	providerLockShards = 64
	reconcileAttempts  = 3
)

// Index отвечает за обновление координат и поиск исполнителей поблизости.
type Index struct {
	store  Store
	cache  Cache
	logger *zap.Logger
	now    func() time.Time

	// Обновления одного исполнителя попадают в хранилище и в кэш в одном порядке.
	locks [providerLockShards]sync.Mutex
	// generation растёт при каждой записи в кэш, Reconcile по нему замечает параллельные обновления.
	generation atomic.Uint64
	// cacheReady сбрасывается при неудачной записи в кэш и выставляется успешным Reconcile.
	cacheReady atomic.Bool
}

// NewIndex создаёт индекс. Если cache равен nil, кандидаты выбираются из хранилища.
// Кэш начинает отвечать на запросы только после успешного Reconcile.
func NewIndex(store Store, cache Cache, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// UpsertLocation записывает или перезаписывает координату исполнителя.
func (i *Index) UpsertLocation(ctx context.Context, providerID int64, lat, lon float64) (*model.ProviderLocation, error) {
	if err := validation.Coordinates(lat, lon); err != nil {
		return nil, err
	}

	lock := i.providerLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	loc := model.ProviderLocation{
		ProviderID:  providerID,
		Latitude:    lat,
		Longitude:   lon,
		LastUpdated: i.now().UTC(),
	}

	if err := i.store.UpsertLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("upsert location: %w", err)
	}

	if i.cache != nil {
		i.generation.Add(1)
		if err := i.cache.Add(ctx, loc); err != nil {
			i.cacheReady.Store(false)
			i.logger.Warn("geo cache update failed, searching the store until reconcile",
				zap.Error(err), zap.Int64("providerID", providerID))
		}
	}

	return &loc, nil
}

// FindNearby возвращает исполнителей, находящихся не дальше radiusMeters от точки.
// Результат отсортирован по расстоянию, затем по id исполнителя.
func (i *Index) FindNearby(ctx context.Context, lat, lon, radiusMeters float64) ([]model.NearbyProvider, error) {
	if err := validation.Coordinates(lat, lon); err != nil {
		return nil, err
	}
	if err := validation.Radius(radiusMeters); err != nil {
		return nil, err
	}

	center := Point{Lat: lat, Lon: lon}

	candidates, err := i.candidates(ctx, center, radiusMeters)
	if err != nil {
		return nil, err
	}

	res := make([]model.NearbyProvider, 0, len(candidates))
	for _, loc := range candidates {
		d := Distance(center, Point{Lat: loc.Latitude, Lon: loc.Longitude})
		if d > radiusMeters {
			continue
		}
		res = append(res, model.NearbyProvider{ProviderLocation: loc, DistanceMeters: d})
	}

	slices.SortFunc(res, func(a, b model.NearbyProvider) int {
		if c := cmp.Compare(a.DistanceMeters, b.DistanceMeters); c != 0 {
			return c
		}
		return cmp.Compare(a.ProviderID, b.ProviderID)
	})

	return res, nil
}

func (i *Index) providerLock(providerID int64) *sync.Mutex {
	return &i.locks[uint64(providerID)%providerLockShards]
}

func (i *Index) candidates(ctx context.Context, center Point, radius float64) ([]model.ProviderLocation, error) {
	if i.cache != nil && i.cacheReady.Load() {
		ids, err := i.cache.Candidates(ctx, center, radius)
		if err == nil {
			if len(ids) == 0 {
				return nil, nil
			}
			locs, err := i.store.LocationsByProviders(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("load candidate locations: %w", err)
			}
			return locs, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			i.logger.Warn("geo cache lookup failed, falling back to store", zap.Error(err))
		}
	}

	locs, err := i.store.LocationsInBox(ctx, BoundingBox(center, radius))
	if err != nil {
		return nil, fmt.Errorf("locations in box: %w", err)
	}
	return locs, nil
}

// Reconcile перестраивает кэш по данным хранилища и разрешает поиск через него.
// Если во время перестройки кэш обновлялся, снимок берётся заново.
func (i *Index) Reconcile(ctx context.Context) error {
	if i.cache == nil {
		return nil
	}

	for attempt := 1; attempt <= reconcileAttempts; attempt++ {
		gen := i.generation.Load()

		locs, err := i.store.ListLocations(ctx)
		if err != nil {
			i.cacheReady.Store(false)
			return fmt.Errorf("list locations: %w", err)
		}

		if err := i.cache.Replace(ctx, locs); err != nil {
			i.cacheReady.Store(false)
			return fmt.Errorf("replace geo cache: %w", err)
		}

		if i.generation.Load() == gen {
			i.cacheReady.Store(true)
			i.logger.Info("geo cache reconciled", zap.Int("locations", len(locs)), zap.Int("attempt", attempt))
			return nil
		}
	}

	i.cacheReady.Store(false)
	return fmt.Errorf("geo cache kept changing during %d reconcile attempts", reconcileAttempts)
}
