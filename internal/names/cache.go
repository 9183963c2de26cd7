// Package names resolves device and station display identity for visit
// records, with a Redis cache in front of Postgres. Cache failures fall
// through to the database; the cache is an optimization, never a source
// of truth.
package names

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/trapline/visits-platform/internal/visits"
	"github.com/trapline/visits-platform/pkg/config"
	"github.com/trapline/visits-platform/pkg/postgres"
	rediskit "github.com/trapline/visits-platform/pkg/redis"
)

// Cache resolves display names, caching results in Redis with a TTL
type Cache struct {
	pg     postgres.Client
	redis  rediskit.Client // optional; nil disables caching
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a new display-name cache
func NewCache(pg postgres.Client, redisClient rediskit.Client, cfg *config.Config, logger *slog.Logger) *Cache {
	return &Cache{
		pg:     pg,
		redis:  redisClient,
		ttl:    cfg.NameCacheTTL(),
		logger: logger,
	}
}

// DeviceNames resolves display names for the given device ids. Unknown
// ids are simply absent from the result; missing names are data, not
// errors.
func (c *Cache) DeviceNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))

	var misses []int64
	for _, id := range ids {
		if name, ok := c.cachedDeviceName(ctx, id); ok {
			out[id] = name
		} else {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	rows, err := c.pg.Query(ctx,
		`SELECT id, device_name FROM devices WHERE id = ANY($1)`, pq.Array(misses))
	if err != nil {
		return nil, fmt.Errorf("%w: resolving device names: %v", visits.ErrUpstreamUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("%w: scanning device names: %v", visits.ErrUpstreamUnavailable, err)
		}
		out[id] = name
		c.storeDeviceName(ctx, id, name)
	}
	return out, rows.Err()
}

// Stations resolves display records for the given station ids
func (c *Cache) Stations(ctx context.Context, ids []int64) (map[int64]visits.Station, error) {
	out := make(map[int64]visits.Station, len(ids))

	var misses []int64
	for _, id := range ids {
		if station, ok := c.cachedStation(ctx, id); ok {
			out[id] = station
		} else {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	rows, err := c.pg.Query(ctx,
		`SELECT id, name, lat, lng FROM stations WHERE id = ANY($1)`, pq.Array(misses))
	if err != nil {
		return nil, fmt.Errorf("%w: resolving station names: %v", visits.ErrUpstreamUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var station visits.Station
		var lat, lng *float64
		if err := rows.Scan(&id, &station.Name, &lat, &lng); err != nil {
			return nil, fmt.Errorf("%w: scanning station names: %v", visits.ErrUpstreamUnavailable, err)
		}
		if lat != nil && lng != nil {
			station.Lat = *lat
			station.Lng = *lng
			station.HasLocation = true
		}
		out[id] = station
		c.storeStation(ctx, id, station)
	}
	return out, rows.Err()
}

// InvalidateDevice drops the cached name for a device, e.g. after a
// rename or reassignment event
func (c *Cache) InvalidateDevice(ctx context.Context, deviceID int64) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, rediskit.DeviceNameKey(deviceID)); err != nil {
		c.logger.Warn("Failed to invalidate device name", "device", deviceID, "error", err)
	}
}

func (c *Cache) cachedDeviceName(ctx context.Context, id int64) (string, bool) {
	if c.redis == nil {
		return "", false
	}
	name, err := c.redis.Get(ctx, rediskit.DeviceNameKey(id))
	if err != nil {
		return "", false
	}
	return name, true
}

func (c *Cache) storeDeviceName(ctx context.Context, id int64, name string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, rediskit.DeviceNameKey(id), name, c.ttl); err != nil {
		c.logger.Warn("Failed to cache device name", "device", id, "error", err)
	}
}

func (c *Cache) cachedStation(ctx context.Context, id int64) (visits.Station, bool) {
	if c.redis == nil {
		return visits.Station{}, false
	}
	fields, err := c.redis.HGetAll(ctx, rediskit.StationNameKey(id))
	if err != nil || len(fields) == 0 {
		return visits.Station{}, false
	}

	station := visits.Station{Name: fields["name"]}
	if lat, err := strconv.ParseFloat(fields["lat"], 64); err == nil {
		if lng, err := strconv.ParseFloat(fields["lng"], 64); err == nil {
			station.Lat = lat
			station.Lng = lng
			station.HasLocation = true
		}
	}
	return station, true
}

func (c *Cache) storeStation(ctx context.Context, id int64, station visits.Station) {
	if c.redis == nil {
		return
	}
	key := rediskit.StationNameKey(id)
	if err := c.redis.HSet(ctx, key, "name", station.Name); err != nil {
		c.logger.Warn("Failed to cache station name", "station", id, "error", err)
		return
	}
	if station.HasLocation {
		_ = c.redis.HSet(ctx, key, "lat", strconv.FormatFloat(station.Lat, 'f', -1, 64))
		_ = c.redis.HSet(ctx, key, "lng", strconv.FormatFloat(station.Lng, 'f', -1, 64))
	}
	if err := c.redis.Expire(ctx, key, c.ttl); err != nil {
		c.logger.Warn("Failed to expire station name", "station", id, "error", err)
	}
}
