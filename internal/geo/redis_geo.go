package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hailing/internal/models"
)

// RedisIndex implements Index using Redis GEO commands.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(client *redis.Client, key string) *RedisIndex {
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) Upsert(ctx context.Context, captainID string, loc models.Coord) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: captainID}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, MetaKey(captainID), map[string]interface{}{"updated": time.Now().Format(time.RFC3339)}).Err()
}

func (r *RedisIndex) Remove(ctx context.Context, captainID string) error {
	return r.client.ZRem(ctx, r.key, captainID).Err()
}

func (r *RedisIndex) Nearby(ctx context.Context, loc models.Coord, radiusKm float64) ([]string, error) {
	return r.client.GeoSearch(ctx, r.key, &redis.GeoSearchQuery{
		Longitude:  loc.Lng,
		Latitude:   loc.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
}

// MetaKey is the hash holding per-captain metadata next to the GEO set.
func MetaKey(captainID string) string { return "captain:meta:" + captainID }
