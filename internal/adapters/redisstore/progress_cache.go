package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sublead/sublead-api/internal/core"
)

// ProgressCache mirrors live job progress in Redis so the status endpoint can
// serve 1s polls without hitting Postgres. Entries expire on their own; a cache
// miss just falls through to the job repository.
type ProgressCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewProgressCache creates a Redis progress cache. A non-positive ttl falls
// back to one minute, comfortably past any terminal write.
func NewProgressCache(client redis.UniversalClient, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ProgressCache{
		client: client,
		prefix: "job:progress:",
		ttl:    ttl,
	}
}

func (c *ProgressCache) SetProgress(ctx context.Context, jobID string, snap core.ProgressSnapshot) error {
	if jobID == "" {
		return errors.New("job ID cannot be empty")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal progress snapshot: %w", err)
	}

	return c.client.Set(ctx, c.prefix+jobID, data, c.ttl).Err()
}

// GetProgress returns the cached snapshot, or (nil, nil) on a miss.
func (c *ProgressCache) GetProgress(ctx context.Context, jobID string) (*core.ProgressSnapshot, error) {
	if jobID == "" {
		return nil, nil
	}

	data, err := c.client.Get(ctx, c.prefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var snap core.ProgressSnapshot
	if unmarshalErr := json.Unmarshal([]byte(data), &snap); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal progress snapshot: %w", unmarshalErr)
	}
	return &snap, nil
}

func (c *ProgressCache) DeleteProgress(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}
	return c.client.Del(ctx, c.prefix+jobID).Err()
}
