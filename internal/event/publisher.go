package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"

	"anchor-platform/internal/domain"
)

// LogPublisher writes every status change to the structured log.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e domain.StatusChangedEvent) error {
	p.logger.Info("transaction status changed",
		"event_id", e.ID,
		"transaction_id", e.TransactionID,
		"sep", e.Protocol,
		"method", e.Method,
		"old_status", e.OldStatus,
		"new_status", e.NewStatus,
	)
	return nil
}

// WebhookPublisher POSTs events as JSON and retries transient failures.
// Delivery is at-least-once: receivers deduplicate on the event id.
type WebhookPublisher struct {
	url         string
	client      *http.Client
	maxElapsed  time.Duration
	initialWait time.Duration
	logger      *slog.Logger
}

func NewWebhookPublisher(url string, timeout time.Duration, logger *slog.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		url:         url,
		client:      &http.Client{Timeout: timeout},
		maxElapsed:  30 * time.Second,
		initialWait: 200 * time.Millisecond,
		logger:      logger,
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, e domain.StatusChangedEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialWait
	b.MaxElapsedTime = p.maxElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			p.logger.Warn("event delivery failed", "event_id", e.ID, "attempt", attempt, "error", err)
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			p.logger.Warn("event delivery rejected", "event_id", e.ID, "attempt", attempt, "status", resp.StatusCode)
			return fmt.Errorf("webhook responded %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook responded %d", resp.StatusCode))
		}
	}, backoff.WithContext(b, ctx))
}

// Multi fans an event out to every publisher and reports all failures.
type Multi []domain.EventPublisher

func (m Multi) Publish(ctx context.Context, e domain.StatusChangedEvent) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, e))
	}
	return err
}
