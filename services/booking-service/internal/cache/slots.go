package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "booking:slots:"

// NoGeneration marks a lookup whose generation could not be read. Set ignores it.
const NoGeneration int64 = -1

// Client is the subset of a go-redis client the slot cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// SlotCache keeps rendered day slot lists in Redis. Entries are keyed by a per-provider
// generation; InvalidateProvider bumps it, so a list computed before the bump lands under a key
// no reader uses. A nil *SlotCache always misses. Redis failures are logged and treated as misses.
type SlotCache struct {
	rdb    Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewSlotCache(rdb Client, ttl time.Duration, logger *slog.Logger) *SlotCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return &SlotCache{rdb: rdb, ttl: ttl, logger: logger}
}

func slotKey(providerID string, gen int64, d clock.Date, serviceID string) string {
	return keyPrefix + providerID + ":" + strconv.FormatInt(gen, 10) + ":" + d.String() + ":" + serviceID
}

func generationKey(providerID string) string {
	return keyPrefix + "gen:" + providerID
}

func (c *SlotCache) generation(ctx context.Context, providerID string) (int64, error) {
	gen, err := c.rdb.Get(ctx, generationKey(providerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns the cached list and the generation it was looked up under. Callers that render the
// list themselves hand that generation back to Set.
func (c *SlotCache) Get(ctx context.Context, providerID string, d clock.Date, serviceID string) ([]booking.Slot, int64, bool) {
	if c == nil {
		return nil, NoGeneration, false
	}
	gen, err := c.generation(ctx, providerID)
	if err != nil {
		c.logger.Warn("slot cache generation read failed", "err", err, "provider_id", providerID)
		return nil, NoGeneration, false
	}
	raw, err := c.rdb.Get(ctx, slotKey(providerID, gen, d, serviceID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("slot cache get failed", "err", err, "provider_id", providerID)
		}
		return nil, gen, false
	}
	var slots []booking.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		c.logger.Warn("slot cache entry corrupt", "err", err, "provider_id", providerID)
		return nil, gen, false
	}
	return slots, gen, true
}

// Set stores slots under gen. A stale gen writes a key that no later Get reads.
func (c *SlotCache) Set(ctx context.Context, providerID string, d clock.Date, serviceID string, gen int64, slots []booking.Slot) {
	if c == nil || gen < 0 {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, slotKey(providerID, gen, d, serviceID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("slot cache set failed", "err", err, "provider_id", providerID)
	}
}

// InvalidateProvider retires every cached day of the provider. Old entries expire on their TTL.
func (c *SlotCache) InvalidateProvider(ctx context.Context, providerID string) {
	if c == nil {
		return
	}
	if err := c.rdb.Incr(ctx, generationKey(providerID)).Err(); err != nil {
		c.logger.Warn("slot cache invalidate failed", "err", err, "provider_id", providerID)
	}
}

// ReadyCheck pings Redis.
func ReadyCheck(rdb redis.Cmdable) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}
