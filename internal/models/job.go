package models

import "time"

// Upstream job result statuses.
const (
	StatusPending   = "pending"
	StatusFailed    = "error"
	StatusCompleted = "completed"
)

// TrackingStatus is the gateway's view of a submitted job.
type TrackingStatus string

const (
	TrackingSubmitted  TrackingStatus = "submitted"
	TrackingProcessing TrackingStatus = "processing"
	TrackingCompleted  TrackingStatus = "completed"
	TrackingFailed     TrackingStatus = "failed"
	TrackingTimedOut   TrackingStatus = "timed_out"
)

// JobProgress is one progress snapshot reported by the job backend.
type JobProgress struct {
	Completed     int          `json:"completed"`
	Total         int          `json:"total"`
	LatestResults []ResultItem `json:"latest_results,omitempty"`
}

// ResultItem is the outcome for one submitted file.
type ResultItem struct {
	Index     int     `json:"index"`
	Original  string  `json:"original"`
	Suggested *string `json:"suggested,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Failed reports whether the backend produced an error instead of a name.
func (r ResultItem) Failed() bool {
	return r.Suggested == nil || r.Error != ""
}

// JobResult is the terminal (or pending) state of a job.
type JobResult struct {
	Status  string       `json:"status"`
	Results []ResultItem `json:"results"`
}

// SubmitResponse is the upstream answer to a rename submission.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// JobSubmitted is published to Kafka once a job has been accepted upstream.
type JobSubmitted struct {
	JobID       string    `json:"job_id"`
	UserID      string    `json:"user_id"`
	FileCount   int       `json:"file_count"`
	HoldID      string    `json:"hold_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobRecord is the locally tracked state of a job, kept in Redis.
type JobRecord struct {
	JobID     string         `json:"job_id" redis:"job_id"`
	UserID    string         `json:"user_id" redis:"user_id"`
	FileCount int            `json:"file_count" redis:"file_count"`
	HoldID    string         `json:"hold_id" redis:"hold_id"`
	Status    TrackingStatus `json:"status" redis:"status"`
	Completed int            `json:"completed" redis:"completed"`
	Total     int            `json:"total" redis:"total"`
	Error     string         `json:"error,omitempty" redis:"error"`
	UpdatedAt int64          `json:"updated_at" redis:"updated_at"`
}
