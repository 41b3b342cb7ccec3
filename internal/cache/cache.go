package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Cache shares session, live and stitch state between the api and worker
// processes through Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Session Cache Operations

// SetSession caches the current session snapshot
func (c *Cache) SetSession(ctx context.Context, state models.SessionState, ttl time.Duration) error {
	return c.SetWithJSON(ctx, fmt.Sprintf("session:%s", state.SessionID), state, ttl)
}

// GetSession retrieves a session snapshot; a miss returns nil
func (c *Cache) GetSession(ctx context.Context, sessionID string) (*models.SessionState, error) {
	var state models.SessionState
	ok, err := c.getJSON(ctx, fmt.Sprintf("session:%s", sessionID), &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// SetRecording caches the active recording
func (c *Cache) SetRecording(ctx context.Context, rec *models.RecordingSession, ttl time.Duration) error {
	return c.SetWithJSON(ctx, fmt.Sprintf("recording:%s", rec.ID), rec, ttl)
}

// GetRecording retrieves a recording; a miss returns nil
func (c *Cache) GetRecording(ctx context.Context, id string) (*models.RecordingSession, error) {
	var rec models.RecordingSession
	ok, err := c.getJSON(ctx, fmt.Sprintf("recording:%s", id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// Live Cache Operations

// SetLiveTelemetry caches the latest per-second live status
func (c *Cache) SetLiveTelemetry(ctx context.Context, t models.LiveTelemetry, ttl time.Duration) error {
	return c.SetWithJSON(ctx, fmt.Sprintf("live:telemetry:%s", t.SessionID), t, ttl)
}

// GetLiveTelemetry retrieves live telemetry; a miss returns nil
func (c *Cache) GetLiveTelemetry(ctx context.Context, sessionID string) (*models.LiveTelemetry, error) {
	var t models.LiveTelemetry
	ok, err := c.getJSON(ctx, fmt.Sprintf("live:telemetry:%s", sessionID), &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

// Stitch Cache Operations

// SetStitchTask caches a stitch task
func (c *Cache) SetStitchTask(ctx context.Context, task *models.StitchTask, ttl time.Duration) error {
	return c.SetWithJSON(ctx, fmt.Sprintf("stitch:%s", task.ID), task, ttl)
}

// GetStitchTask retrieves a stitch task; a miss returns nil
func (c *Cache) GetStitchTask(ctx context.Context, taskID string) (*models.StitchTask, error) {
	var task models.StitchTask
	ok, err := c.getJSON(ctx, fmt.Sprintf("stitch:%s", taskID), &task)
	if err != nil || !ok {
		return nil, err
	}
	return &task, nil
}

// SetStitchProgress caches stitch progress for quick retrieval
func (c *Cache) SetStitchProgress(ctx context.Context, taskID string, progress float64, ttl time.Duration) error {
	key := fmt.Sprintf("stitch:progress:%s", taskID)
	return c.client.Set(ctx, key, progress, ttl).Err()
}

// GetStitchProgress retrieves stitch progress. ok is false on a miss.
func (c *Cache) GetStitchProgress(ctx context.Context, taskID string) (progress float64, ok bool, err error) {
	key := fmt.Sprintf("stitch:progress:%s", taskID)
	progress, err = c.client.Get(ctx, key).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil // Cache miss
		}
		return 0, false, fmt.Errorf("failed to get stitch progress from cache: %w", err)
	}
	return progress, true, nil
}

// Stats Cache Operations

// IncrementStat increments a statistic counter
func (c *Cache) IncrementStat(ctx context.Context, stat string) error {
	key := fmt.Sprintf("stats:%s", stat)
	return c.client.Incr(ctx, key).Err()
}

// GetStat retrieves a statistic value
func (c *Cache) GetStat(ctx context.Context, stat string) (int64, error) {
	key := fmt.Sprintf("stats:%s", stat)
	v, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Locking Operations for Distributed Systems

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// Batch Operations

// DeletePattern deletes all keys matching a pattern
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// Exists checks if a key exists
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetWithJSON gets a value with JSON unmarshaling. A miss leaves dest untouched.
func (c *Cache) GetWithJSON(ctx context.Context, key string, dest interface{}) error {
	_, err := c.getJSON(ctx, key, dest)
	return err
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
