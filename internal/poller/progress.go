package poller

import (
	"sync"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

// ProgressTracker clamps upstream progress so the reported count never goes
// backwards and the total only changes when the backend reports one.
type ProgressTracker struct {
	mu        sync.Mutex
	completed int
	total     int
}

func NewProgressTracker(total int) *ProgressTracker {
	return &ProgressTracker{total: max(total, 0)}
}

// Observe folds in a snapshot and returns the clamped values.
func (t *ProgressTracker) Observe(p models.JobProgress) (completed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.Total > 0 {
		t.total = p.Total
	}
	if p.Completed > t.completed {
		t.completed = p.Completed
	}
	return t.completed, t.total
}

// Complete marks every file as done.
func (t *ProgressTracker) Complete() (completed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total > t.completed {
		t.completed = t.total
	}
	return t.completed, t.total
}

func (t *ProgressTracker) Snapshot() (completed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.total
}
