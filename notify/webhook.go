// Package notify publishes overlay lifecycle notifications to downstream
// systems. The only event today is tree-built: the root reports that the
// expected number of processes joined.
//
// Publishes as JSON POST to a configurable URL, retrying with exponential
// backoff on transient failures.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ParaToolsInc/snapped/iox"
	"github.com/ParaToolsInc/snapped/types"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// TreeBuiltEvent is the payload published when the overlay finishes
// assembling.
type TreeBuiltEvent struct {
	Version    string `json:"version"`
	EventType  string `json:"event_type"` // always "tree_built"
	RootURL    string `json:"root_url"`
	NodeCount  int    `json:"node_count"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"` // ISO 8601
	Hostkey    string `json:"hostkey"`
}

// NewTreeBuiltEvent builds the event for a root that assembled nodeCount
// processes in the given duration.
func NewTreeBuiltEvent(rootURL string, nodeCount int, duration time.Duration) *TreeBuiltEvent {
	return &TreeBuiltEvent{
		Version:    types.Version,
		EventType:  "tree_built",
		RootURL:    rootURL,
		NodeCount:  nodeCount,
		DurationMs: duration.Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Hostkey:    types.Hostkey(),
	}
}

// Config configures the webhook notifier.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts after a failed first attempt;
	// 0 means a single attempt. New does not apply DefaultRetries.
	Retries int
}

// Webhook publishes events via HTTP POST.
type Webhook struct {
	config Config
	client *http.Client
}

// New creates a webhook notifier from the given config.
// Returns an error if the URL is empty.
func New(cfg Config) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook notifier requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Webhook{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish sends the event as a JSON POST request.
// Retries with exponential backoff on 5xx responses and network errors.
// 4xx responses are non-retriable and fail immediately.
func (w *Webhook) Publish(ctx context.Context, event *TreeBuiltEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + w.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("webhook: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = w.doRequest(ctx, body)
		if lastErr == nil {
			return nil
		}

		// 4xx errors are non-retriable — stop immediately
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("webhook: non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("webhook: failed after %d attempts: %w", attempts, lastErr)
}

// StatusError is returned for non-2xx HTTP responses.
// Wrapping the status code allows callers to distinguish retriable (5xx)
// from non-retriable (4xx) failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// doRequest performs a single HTTP POST and returns nil on 2xx.
func (w *Webhook) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	return nil
}

// Close releases notifier resources.
func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
