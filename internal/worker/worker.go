// Package worker follows submitted rename jobs to completion and settles
// their credit holds. Jobs arrive as Kafka events; a periodic sweep over the
// ledger picks up jobs whose event was lost and refunds abandoned holds.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"golang.org/x/sync/errgroup"

	"github.com/basilysf1709/file-renamer-ai/internal/config"
	"github.com/basilysf1709/file-renamer-ai/internal/jobs"
	"github.com/basilysf1709/file-renamer-ai/internal/ledger"
	"github.com/basilysf1709/file-renamer-ai/internal/metrics"
	"github.com/basilysf1709/file-renamer-ai/internal/models"
	"github.com/basilysf1709/file-renamer-ai/internal/poller"
	"github.com/basilysf1709/file-renamer-ai/pkg/database"
)

type Worker struct {
	cfg      *config.Config
	logger   *slog.Logger
	consumer sarama.ConsumerGroup
	ledger   *ledger.Ledger
	jobs     *jobs.Store
	poller   *poller.Poller
	notifier jobs.Notifier
	metrics  metrics.Recorder

	mu       sync.Mutex
	inflight map[string]struct{}

	// recovery bounds jobs resumed by Sweep; wg tracks them for shutdown.
	recovery chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Worker)

func WithNotifier(n jobs.Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(w *Worker) { w.metrics = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// NewWorker needs the ledger database; Redis is optional and only feeds the
// job status endpoint.
func NewWorker(cfg *config.Config, db *database.Clients, consumer sarama.ConsumerGroup, source poller.Source, opts ...Option) (*Worker, error) {
	if db == nil || db.DB == nil {
		return nil, ledger.ErrDatabaseRequired
	}
	l, err := ledger.New(db.DB, cfg.Billing.StartingCredits)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:      cfg,
		logger:   slog.Default(),
		consumer: consumer,
		ledger:   l,
		notifier: jobs.NewNotifier(cfg.Poller.NotifyURL),
		metrics:  metrics.NewNoop(),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if db.Redis != nil {
		w.jobs = jobs.NewStore(db.Redis, cfg.Redis.JobTTL)
	}
	w.recovery = make(chan struct{}, w.concurrency())
	w.poller = poller.New(source, cfg.Poller.Interval, cfg.Poller.MaxAttempts, w.logger)
	return w, nil
}

// Start consumes job events and runs the recovery sweep until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	topics := []string{w.cfg.Kafka.Topic}
	w.logger.Info("Starting worker", "topics", topics, "concurrency", w.cfg.Poller.Concurrency)

	g, ctx := errgroup.WithContext(ctx)

	if w.consumer != nil {
		g.Go(func() error {
			for err := range w.consumer.Errors() {
				w.logger.Error("Kafka consumer error received", "error", err)
			}
			return nil
		})

		g.Go(func() error {
			for {
				if err := w.consumer.Consume(ctx, topics, w); err != nil {
					if errors.Is(err, sarama.ErrClosedConsumerGroup) {
						return nil
					}
					w.logger.Error("Error from consumer.Consume", "error", err)
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		})
	}

	g.Go(func() error {
		w.Sweep(ctx)
		ticker := time.NewTicker(w.sweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				w.Sweep(ctx)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		w.logger.Info("Worker shutting down gracefully")
		if w.consumer != nil {
			return w.consumer.Close()
		}
		return nil
	})

	err := g.Wait()
	w.wg.Wait()
	return err
}

func (w *Worker) sweepInterval() time.Duration {
	if w.cfg.Poller.SweepInterval > 0 {
		return w.cfg.Poller.SweepInterval
	}
	return time.Minute
}

func (w *Worker) concurrency() int {
	if w.cfg.Poller.Concurrency > 0 {
		return w.cfg.Poller.Concurrency
	}
	return 1
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (w *Worker) Setup(session sarama.ConsumerGroupSession) error {
	w.logger.Info("Consumer group session setup complete", "member_id", session.MemberID())
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error {
	w.logger.Info("Consumer group session cleanup complete")
	return nil
}

// ConsumeClaim tracks each job event concurrently. A message is marked and
// committed once its job is settled or released; jobs interrupted by a
// rebalance stay uncommitted and are redelivered or recovered by the sweep.
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	var g errgroup.Group
	g.SetLimit(w.concurrency())

	for message := range claim.Messages() {
		msg := message
		evt, err := jobs.DecodeSubmitted(msg.Value)
		if err != nil {
			w.logger.Error("Dropping malformed job event", "offset", msg.Offset, "partition", msg.Partition, "error", err)
			session.MarkMessage(msg, "")
			session.Commit()
			continue
		}

		g.Go(func() error {
			if err := w.Track(ctx, evt); err != nil {
				w.logger.Warn("Job tracking interrupted", "job_id", evt.JobID, "error", err)
				return nil
			}
			session.MarkMessage(msg, "")
			session.Commit()
			return nil
		})
	}
	return g.Wait()
}

// Track polls one job until it finishes, then settles or releases its hold.
// It returns an error only when tracking was interrupted before a terminal
// state; the hold is then left for a later attempt.
func (w *Worker) Track(ctx context.Context, evt models.JobSubmitted) error {
	if !w.claim(evt.JobID) {
		w.logger.Debug("Job already tracked", "job_id", evt.JobID)
		return nil
	}
	defer w.unclaim(evt.JobID)

	logger := w.logger.With("job_id", evt.JobID, "user_id", evt.UserID)
	logger.Info("Tracking job", "file_count", evt.FileCount)

	result, err := w.poller.Wait(ctx, evt.JobID, evt.FileCount, func(completed, total int) {
		if w.jobs == nil {
			return
		}
		if err := w.jobs.UpdateProgress(ctx, evt.JobID, completed, total); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
			logger.Warn("Failed to store job progress", "error", err)
		}
	})

	switch {
	case err == nil:
		return w.settle(ctx, logger, evt, result)
	case errors.Is(err, poller.ErrJobFailed):
		return w.release(ctx, logger, evt, models.TrackingFailed, err)
	case errors.Is(err, poller.ErrTimedOut):
		return w.release(ctx, logger, evt, models.TrackingTimedOut, err)
	default:
		return err
	}
}

func (w *Worker) settle(ctx context.Context, logger *slog.Logger, evt models.JobSubmitted, result models.JobResult) error {
	settled, err := w.ledger.Settle(ctx, evt.JobID)
	if err != nil {
		return fmt.Errorf("failed to settle job %s: %w", evt.JobID, err)
	}
	if settled {
		w.metrics.IncCreditHold("settled")
	}

	failed := 0
	for _, item := range result.Results {
		if item.Failed() {
			failed++
		}
	}
	logger.Info("Job completed", "settled", settled, "results", len(result.Results), "failed_items", failed)

	w.metrics.IncJobFinished(string(models.TrackingCompleted))
	w.finish(ctx, logger, evt, models.TrackingCompleted, "")
	return nil
}

func (w *Worker) release(ctx context.Context, logger *slog.Logger, evt models.JobSubmitted, status models.TrackingStatus, cause error) error {
	released, err := w.ledger.ReleaseJob(ctx, evt.JobID)
	if err != nil {
		return fmt.Errorf("failed to release job %s: %w", evt.JobID, err)
	}
	if released {
		w.metrics.IncCreditHold("released")
	}
	logger.Warn("Job did not complete; credits returned", "status", status, "released", released, "reason", cause)

	w.metrics.IncJobFinished(string(status))
	w.finish(ctx, logger, evt, status, cause.Error())
	return nil
}

func (w *Worker) finish(ctx context.Context, logger *slog.Logger, evt models.JobSubmitted, status models.TrackingStatus, errMsg string) {
	rec := models.JobRecord{
		JobID:     evt.JobID,
		UserID:    evt.UserID,
		FileCount: evt.FileCount,
		HoldID:    evt.HoldID,
		Status:    status,
		Error:     errMsg,
		UpdatedAt: time.Now().Unix(),
	}

	if w.jobs != nil {
		if err := w.jobs.Finish(ctx, evt.JobID, status, errMsg); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
			logger.Warn("Failed to store job status", "error", err)
		}
		if stored, err := w.jobs.Get(ctx, evt.JobID); err == nil {
			rec = stored
		}
	}

	if err := w.notifier.Notify(ctx, rec); err != nil {
		logger.Warn("Job notification failed", "error", err)
	}
}

// Sweep refunds stale unbound holds and resumes tracking of bound holds that
// no one is following. Resumed jobs run in the background, at most
// Concurrency at a time; holds beyond that wait for a later sweep.
func (w *Worker) Sweep(ctx context.Context) {
	n, err := w.ledger.ReleaseStale(ctx, w.cfg.Poller.StaleHoldAge)
	if err != nil {
		w.logger.Error("Failed to release stale holds", "error", err)
	} else if n > 0 {
		for i := 0; i < n; i++ {
			w.metrics.IncCreditHold("expired")
		}
		w.logger.Info("Released stale holds", "count", n)
	}

	holds, err := w.ledger.PendingHolds(ctx, w.concurrency())
	if err != nil {
		w.logger.Error("Failed to list pending holds", "error", err)
		return
	}

	for _, h := range holds {
		if h.JobID == nil || w.tracking(*h.JobID) {
			continue
		}
		select {
		case w.recovery <- struct{}{}:
		default:
			w.logger.Debug("Recovery slots busy", "pending", len(holds))
			return
		}

		evt := models.JobSubmitted{
			JobID:       *h.JobID,
			UserID:      h.UserID,
			FileCount:   h.Amount,
			HoldID:      h.ID,
			SubmittedAt: h.CreatedAt,
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.recovery }()
			if err := w.Track(ctx, evt); err != nil {
				w.logger.Warn("Recovered job tracking interrupted", "job_id", evt.JobID, "error", err)
			}
		}()
	}
}

// Wait blocks until every job resumed by Sweep has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) claim(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inflight[jobID]; ok {
		return false
	}
	w.inflight[jobID] = struct{}{}
	return true
}

func (w *Worker) unclaim(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, jobID)
}

func (w *Worker) tracking(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inflight[jobID]
	return ok
}
