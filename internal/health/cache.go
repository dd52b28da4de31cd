package health

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/repohealth/orchestrator/internal/core"
)

const cacheKeyPrefix = "health:team:"

// Entry is the cached health verdict for one team.
type Entry struct {
	TeamRef    string   `json:"team_ref"`
	Status     string   `json:"status"`
	RiskFlags  []string `json:"risk_flags,omitempty"`
	ComputedAt string   `json:"computed_at"`
}

// Cache stores the latest health verdict per team in redis so dashboards
// read hot data without touching the record store. The client is injected
// at startup; there is no package-level singleton.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps an injected redis client. ttl bounds staleness between
// periodic recomputes; the recompute interval is 2 hours, so a ttl a little
// above that keeps entries warm without serving long-dead verdicts.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Set writes a team's health verdict.
func (c *Cache) Set(ctx context.Context, teamRef, status string, flags []string) error {
	entry := Entry{
		TeamRef:    teamRef,
		Status:     status,
		RiskFlags:  flags,
		ComputedAt: core.NowFormatted(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKeyPrefix+teamRef, data, c.ttl).Err()
}

// Get reads a team's cached verdict. Returns (nil, nil) on a miss.
func (c *Cache) Get(ctx context.Context, teamRef string) (*Entry, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+teamRef).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Ping checks connectivity for health reporting.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
