package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/fairmatch/internal/model"
)

const (
	redisGeoKey = "geo:providers"
	// Redis считает расстояния со своим радиусом Земли, поэтому кандидатов берём с запасом,
	// а точная проверка выполняется в Index.FindNearby.
	redisRadiusSlack = 1.01
	// Redis GEO не принимает широты за пределами проекции Web Mercator.
	redisMaxLat = 85.05112878
)

// ErrCacheMiss означает, что кэш не может ответить на запрос и нужно идти в хранилище.
var ErrCacheMiss = errors.New("geo cache miss")

func redisIndexable(lat float64) bool {
	return math.Abs(lat) <= redisMaxLat
}

// RedisCache хранит координаты исполнителей в GEO-множестве Redis.
type RedisCache struct {
	rdb *redis.Client
	key string
}

// NewRedisCache создаёт кэш поверх клиента Redis.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, key: redisGeoKey}
}

// Add добавляет или перезаписывает точку исполнителя.
func (c *RedisCache) Add(ctx context.Context, loc model.ProviderLocation) error {
	if !redisIndexable(loc.Latitude) {
		return c.rdb.ZRem(ctx, c.key, strconv.FormatInt(loc.ProviderID, 10)).Err()
	}
	err := c.rdb.GeoAdd(ctx, c.key, &redis.GeoLocation{
		Name:      strconv.FormatInt(loc.ProviderID, 10),
		Longitude: loc.Longitude,
		Latitude:  loc.Latitude,
	}).Err()
	if err != nil {
		return fmt.Errorf("geoadd: %w", err)
	}
	return nil
}

// Candidates возвращает id исполнителей в радиусе (с небольшим запасом).
func (c *RedisCache) Candidates(ctx context.Context, center Point, radius float64) ([]int64, error) {
	box := BoundingBox(center, radius*redisRadiusSlack)
	if !redisIndexable(box.MinLat) || !redisIndexable(box.MaxLat) {
		return nil, ErrCacheMiss
	}

	members, err := c.rdb.GeoRadius(ctx, c.key, center.Lon, center.Lat, &redis.GeoRadiusQuery{
		Radius: radius * redisRadiusSlack,
		Unit:   "m",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m.Name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Replace атомарно подменяет GEO-множество содержимым locs.
func (c *RedisCache) Replace(ctx context.Context, locs []model.ProviderLocation) error {
	tmp := c.key + ":rebuild"
	members := make([]*redis.GeoLocation, 0, len(locs))
	for _, loc := range locs {
		if !redisIndexable(loc.Latitude) {
			continue
		}
		members = append(members, &redis.GeoLocation{
			Name:      strconv.FormatInt(loc.ProviderID, 10),
			Longitude: loc.Longitude,
			Latitude:  loc.Latitude,
		})
	}

	if len(members) == 0 {
		if err := c.rdb.Del(ctx, c.key).Err(); err != nil {
			return fmt.Errorf("del: %w", err)
		}
		return nil
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, tmp)
	pipe.GeoAdd(ctx, tmp, members...)
	pipe.Rename(ctx, tmp, c.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuild geo set: %w", err)
	}
	return nil
}
