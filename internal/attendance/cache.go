package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"qrattend/internal/logger"
)

// Cache holds the per-day log projection in Redis so dashboard reads do not
// hit Postgres on every poll. It is best-effort: every method tolerates a nil
// client and cache faults are logged, never surfaced.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a projection cache with the given TTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func dayKey(adminID, day string) string {
	return fmt.Sprintf("qrattend:log:%s:%s", adminID, day)
}

// GetDay returns the cached records for one day, reporting a miss on any
// fault.
func (c *Cache) GetDay(ctx context.Context, adminID, day string) ([]Record, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	body, err := c.client.Get(ctx, dayKey(adminID, day)).Bytes()
	if err != nil {
		return nil, false
	}
	var records []Record
	if err := json.Unmarshal(body, &records); err != nil {
		logger.Log.Warnw("corrupt log cache entry", "admin_id", adminID, "day", day, "err", err)
		return nil, false
	}
	return records, true
}

// SetDay stores the day's records.
func (c *Cache) SetDay(ctx context.Context, adminID, day string, records []Record) {
	if c == nil || c.client == nil {
		return
	}
	body, err := json.Marshal(records)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, dayKey(adminID, day), body, c.ttl).Err(); err != nil {
		logger.Log.Warnw("log cache write failed", "admin_id", adminID, "day", day, "err", err)
	}
}

// InvalidateDay drops the cached projection after a new record lands.
func (c *Cache) InvalidateDay(ctx context.Context, adminID, day string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, dayKey(adminID, day)).Err(); err != nil {
		logger.Log.Warnw("log cache invalidate failed", "admin_id", adminID, "day", day, "err", err)
	}
}
