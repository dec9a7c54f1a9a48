// Package poller waits for an asynchronous rename job to finish by querying
// its progress and results on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 120
)

var (
	ErrTimedOut  = errors.New("processing timed out")
	ErrJobFailed = errors.New("job failed")
)

// Source answers progress and result queries for a job. It is implemented by
// the server-side upstream client and by the caller-side gateway client.
type Source interface {
	Progress(ctx context.Context, jobID string) (models.JobProgress, error)
	Results(ctx context.Context, jobID string) (models.JobResult, error)
}

// ProgressFunc receives every clamped progress update.
type ProgressFunc func(completed, total int)

type Poller struct {
	source      Source
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func New(source Source, interval time.Duration, maxAttempts int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{source: source, interval: interval, maxAttempts: maxAttempts, logger: logger}
}

// Wait polls jobID until its results are completed, the job reports an
// error, the attempt ceiling is reached, or ctx is done. total seeds the
// progress indicator with the number of submitted files.
func (p *Poller) Wait(ctx context.Context, jobID string, total int, onProgress ProgressFunc) (models.JobResult, error) {
	tracker := NewProgressTracker(total)
	logger := p.logger.With("job_id", jobID)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return models.JobResult{}, ctx.Err()
			case <-time.After(p.interval):
			}
		}

		if progress, err := p.source.Progress(ctx, jobID); err == nil {
			completed, total := tracker.Observe(progress)
			if onProgress != nil {
				onProgress(completed, total)
			}
		} else if ctx.Err() == nil {
			logger.Debug("Progress query failed", "attempt", attempt, "error", err)
		}

		result, err := p.source.Results(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return models.JobResult{}, ctx.Err()
			}
			logger.Warn("Result query failed, will retry", "attempt", attempt, "error", err)
			continue
		}

		switch result.Status {
		case models.StatusCompleted:
			completed, total := tracker.Complete()
			if onProgress != nil {
				onProgress(completed, total)
			}
			return result, nil
		case models.StatusFailed:
			return result, fmt.Errorf("%w: job %s", ErrJobFailed, jobID)
		}
	}

	logger.Warn("Job polling exhausted", "attempts", p.maxAttempts, "interval", p.interval)
	return models.JobResult{}, ErrTimedOut
}
