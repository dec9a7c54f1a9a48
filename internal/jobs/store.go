// Package jobs tracks submitted rename jobs in Redis and announces them on
// Kafka so the settlement worker can follow them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

const keyPrefix = "renamer:job:"

// updateIfExists applies field updates only to a record that is still
// present, so late updates never resurrect an expired job.
var updateIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(jobID string) string {
	return keyPrefix + jobID
}

// Create records a newly accepted job.
func (s *Store) Create(ctx context.Context, rec models.JobRecord) error {
	if rec.Status == "" {
		rec.Status = models.TrackingSubmitted
	}
	rec.UpdatedAt = time.Now().Unix()

	k := key(rec.JobID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, map[string]interface{}{
			"job_id":     rec.JobID,
			"user_id":    rec.UserID,
			"file_count": rec.FileCount,
			"hold_id":    rec.HoldID,
			"status":     string(rec.Status),
			"completed":  rec.Completed,
			"total":      rec.Total,
			"error":      rec.Error,
			"updated_at": rec.UpdatedAt,
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store job %s: %w", rec.JobID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (models.JobRecord, error) {
	var rec models.JobRecord
	res := s.rdb.HGetAll(ctx, key(jobID))
	vals, err := res.Result()
	if err != nil {
		return rec, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if len(vals) == 0 {
		return rec, ErrJobNotFound
	}
	if err := res.Scan(&rec); err != nil {
		return rec, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return rec, nil
}

// UpdateProgress stores the latest clamped progress for a job.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, completed, total int) error {
	return s.update(ctx, jobID,
		"status", string(models.TrackingProcessing),
		"completed", strconv.Itoa(completed),
		"total", strconv.Itoa(total),
	)
}

// Finish records a terminal status. errMsg is empty on success.
func (s *Store) Finish(ctx context.Context, jobID string, status models.TrackingStatus, errMsg string) error {
	return s.update(ctx, jobID,
		"status", string(status),
		"error", errMsg,
	)
}

func (s *Store) update(ctx context.Context, jobID string, fields ...string) error {
	args := make([]interface{}, 0, len(fields)+2)
	for _, f := range fields {
		args = append(args, f)
	}
	args = append(args, "updated_at", strconv.FormatInt(time.Now().Unix(), 10))

	n, err := updateIfExists.Run(ctx, s.rdb, []string{key(jobID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
