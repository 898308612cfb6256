package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smartbuilding/internal/telemetry"
)

const StatsKey = "dashboard:stats"

// StatsCache keeps the last computed dashboard stats so a tick can still
// publish something while Elasticsearch is unreachable.
type StatsCache struct {
	kv  KVStore
	ttl time.Duration
}

func NewStatsCache(kv KVStore, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &StatsCache{kv: kv, ttl: ttl}
}

func (c *StatsCache) Put(ctx context.Context, stats *telemetry.DashboardStats) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return c.kv.Set(ctx, StatsKey, string(data), c.ttl)
}

// Get returns ErrCacheMiss when nothing is cached.
func (c *StatsCache) Get(ctx context.Context) (*telemetry.DashboardStats, error) {
	if c == nil {
		return nil, ErrCacheMiss
	}
	raw, err := c.kv.Get(ctx, StatsKey)
	if err != nil {
		return nil, err
	}
	var stats telemetry.DashboardStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, fmt.Errorf("unmarshal cached stats: %w", err)
	}
	return &stats, nil
}
