package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basalt/basalt/internal/model"
)

const (
	usageCountKey = "usage:apikey:count"
	usageLastKey  = "usage:apikey:last"
)

// usageRecordScript adds to a key's buffered count and keeps the newest
// last-used timestamp (unix milliseconds).
var usageRecordScript = redis.NewScript(`
	redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[3])
	local cur = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
	if tonumber(ARGV[2]) > cur then
		redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
	end
	return 1
`)

// usageDrainScript atomically reads and clears both hashes.
var usageDrainScript = redis.NewScript(`
	local counts = redis.call('HGETALL', KEYS[1])
	local lasts = redis.call('HGETALL', KEYS[2])
	redis.call('DEL', KEYS[1], KEYS[2])
	return {counts, lasts}
`)

// UsageBuffer accumulates API key usage in Redis so authentication does not
// wait on a database write. A worker drains it periodically.
type UsageBuffer struct {
	cache *Cache
}

// NewUsageBuffer creates a UsageBuffer on top of c.
func NewUsageBuffer(c *Cache) *UsageBuffer {
	return &UsageBuffer{cache: c}
}

// Record buffers one use of keyID at the given time.
func (b *UsageBuffer) Record(ctx context.Context, keyID int64, at time.Time) error {
	return b.add(ctx, keyID, 1, at)
}

// Restore puts drained usage back, e.g. after a failed flush.
func (b *UsageBuffer) Restore(ctx context.Context, usage []model.APIKeyUsage) error {
	for _, u := range usage {
		if err := b.add(ctx, u.KeyID, u.Count, u.LastUsed); err != nil {
			return err
		}
	}
	return nil
}

func (b *UsageBuffer) add(ctx context.Context, keyID, count int64, at time.Time) error {
	err := usageRecordScript.Run(ctx, b.cache.client,
		[]string{usageCountKey, usageLastKey},
		strconv.FormatInt(keyID, 10), at.UnixMilli(), count,
	).Err()
	if err != nil {
		return fmt.Errorf("buffer API key usage: %w", err)
	}
	return nil
}

// Pending returns how many distinct keys have buffered usage.
func (b *UsageBuffer) Pending(ctx context.Context) (int64, error) {
	return b.cache.client.HLen(ctx, usageCountKey).Result()
}

// Drain removes and returns all buffered usage.
func (b *UsageBuffer) Drain(ctx context.Context) ([]model.APIKeyUsage, error) {
	res, err := usageDrainScript.Run(ctx, b.cache.client, []string{usageCountKey, usageLastKey}).Slice()
	if err != nil {
		return nil, fmt.Errorf("drain API key usage: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("drain API key usage: unexpected reply length %d", len(res))
	}

	counts, err := pairs(res[0])
	if err != nil {
		return nil, err
	}
	lasts, err := pairs(res[1])
	if err != nil {
		return nil, err
	}

	usage := make([]model.APIKeyUsage, 0, len(counts))
	for field, raw := range counts {
		keyID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || count <= 0 {
			continue
		}
		u := model.APIKeyUsage{KeyID: keyID, Count: count}
		if ms, err := strconv.ParseInt(lasts[field], 10, 64); err == nil && ms > 0 {
			u.LastUsed = time.UnixMilli(ms).UTC()
		}
		usage = append(usage, u)
	}
	return usage, nil
}

// pairs converts a flat HGETALL reply into a map.
func pairs(v any) (map[string]string, error) {
	flat, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("drain API key usage: unexpected reply type %T", v)
	}
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		val, _ := flat[i+1].(string)
		out[k] = val
	}
	return out, nil
}
