package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

// Notifier is told about every job that reaches a terminal state.
type Notifier interface {
	Notify(ctx context.Context, rec models.JobRecord) error
}

// HTTPNotifier posts the final job record as JSON to a fixed URL.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

// NewNotifier returns a no-op notifier when url is empty.
func NewNotifier(url string) Notifier {
	if url == "" {
		return noopNotifier{}
	}
	return &HTTPNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *HTTPNotifier) Notify(ctx context.Context, rec models.JobRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create job notification: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send job notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("job notification failed with status %d", resp.StatusCode)
	}
	return nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, models.JobRecord) error { return nil }
