package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncImageNormalizeFailure(reason string) {}

func (n *NoopRecorder) ObserveUpstreamRequest(endpoint string, status int, duration time.Duration) {}

func (n *NoopRecorder) IncCreditHold(outcome string) {}

func (n *NoopRecorder) IncJobFinished(status string) {}

func (n *NoopRecorder) IncWebhookEvent(eventType, outcome string) {}
