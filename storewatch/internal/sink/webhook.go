package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

// Webhook POSTs each batch as JSON to a URL. Network errors, 429 and 5xx
// responses are retried with doubling backoff; other 4xx responses fail
// at once.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a failed POST is retried. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.retries = n }
}

// WithWebhookBackoff sets the delay before the first retry. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets the logger for failed attempts.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		backoff: time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

var errRejected = errors.New("webhook: rejected")

func (w *Webhook) Send(ctx context.Context, batch change.Batch) error {
	body, err := json.Marshal(envelope{Type: "batch", Data: batch})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	delay := w.backoff
	for attempt := 1; ; attempt++ {
		err = w.post(ctx, batch, body)
		if err == nil || errors.Is(err, errRejected) || attempt > w.retries {
			break
		}
		w.logger.Warn("webhook: delivery failed",
			"url", w.url, "batch", batch.ID, "attempt", attempt, "retry_in", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	if err != nil {
		return fmt.Errorf("webhook: batch %s: %w", batch.ID, err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, batch change.Batch, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Storewatch-Batch", batch.ID)
	req.Header.Set("X-Storewatch-Storage", string(batch.StorageType))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	}
}

func (w *Webhook) Close() error { return nil }
