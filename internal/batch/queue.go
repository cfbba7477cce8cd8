package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobTracker records live progress of an in-flight bulk job in Redis, so a
// status poll never has to wait on the (slower, transactional) Postgres
// store that holds the job's actual results.
type JobTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewJobTracker builds a tracker against the given Redis client. ttl bounds
// how long a finished job's progress key lingers before expiring.
func NewJobTracker(client *redis.Client, ttl time.Duration) *JobTracker {
	return &JobTracker{client: client, ttl: ttl}
}

func progressKey(jobID string) string {
	return "mailvetter:job:" + jobID + ":progress"
}

// Start initializes a job's progress counters.
func (t *JobTracker) Start(ctx context.Context, jobID string, total int) error {
	key := progressKey(jobID)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"total":     total,
		"processed": 0,
		"status":    "running",
	})
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("start job tracker %s: %w", jobID, err)
	}
	return nil
}

// Advance increments the processed counter by delta.
func (t *JobTracker) Advance(ctx context.Context, jobID string, delta int) error {
	if err := t.client.HIncrBy(ctx, progressKey(jobID), "processed", int64(delta)).Err(); err != nil {
		return fmt.Errorf("advance job tracker %s: %w", jobID, err)
	}
	return nil
}

// Finish marks a job complete and refreshes its TTL so a late status poll
// still sees the final state.
func (t *JobTracker) Finish(ctx context.Context, jobID string) error {
	key := progressKey(jobID)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, "status", "complete")
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish job tracker %s: %w", jobID, err)
	}
	return nil
}

// Progress is a point-in-time read of a job's counters.
type Progress struct {
	Total     int
	Processed int
	Status    string
}

// Snapshot reads a job's current counters. redis.Nil (no such key) is
// surfaced to the caller unwrapped so it can be checked with errors.Is.
func (t *JobTracker) Snapshot(ctx context.Context, jobID string) (Progress, error) {
	vals, err := t.client.HGetAll(ctx, progressKey(jobID)).Result()
	if err != nil {
		return Progress{}, fmt.Errorf("snapshot job tracker %s: %w", jobID, err)
	}
	if len(vals) == 0 {
		return Progress{}, redis.Nil
	}

	var p Progress
	p.Status = vals["status"]
	fmt.Sscanf(vals["total"], "%d", &p.Total)
	fmt.Sscanf(vals["processed"], "%d", &p.Processed)
	return p, nil
}
