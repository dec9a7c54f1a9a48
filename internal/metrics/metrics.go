// Package metrics provides instrumentation hooks for the gateway and worker.
package metrics

import "time"

// Recorder captures metric events. Components accept a Recorder so tests can
// run without a registry.
type Recorder interface {
	// Image normalization fell back to the original bytes.
	IncImageNormalizeFailure(reason string)

	// Calls to the upstream job API.
	ObserveUpstreamRequest(endpoint string, status int, duration time.Duration)

	// Credit hold lifecycle. outcome: "reserved", "rejected", "settled", "released", "expired".
	IncCreditHold(outcome string)

	// Terminal state of a tracked job.
	IncJobFinished(status string)

	// outcome: "credited", "duplicate", "ignored", "rejected", "failed".
	IncWebhookEvent(eventType, outcome string)
}
