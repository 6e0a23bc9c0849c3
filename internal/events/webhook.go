package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"solana-reward-distributor/internal/domain"
)

// webhookEnvelope tags a payload with its event type.
type webhookEnvelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebhookSink POSTs events as JSON, retrying with exponential backoff.
type WebhookSink struct {
	url        string
	client     *http.Client
	maxElapsed time.Duration
	log        *slog.Logger
}

// WebhookOption configures WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		s.client = c
	}
}

// WithMaxElapsed bounds the total time spent retrying one event.
func WithMaxElapsed(d time.Duration) WebhookOption {
	return func(s *WebhookSink) {
		s.maxElapsed = d
	}
}

// NewWebhookSink creates a WebhookSink posting to url.
func NewWebhookSink(url string, log *slog.Logger, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxElapsed: 15 * time.Second,
		log:        log.With("component", "webhook"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cycle implements Sink.
func (s *WebhookSink) Cycle(ctx context.Context, ev domain.CycleEvent) {
	s.post(ctx, webhookEnvelope{Type: "cycle." + string(ev.Phase), Payload: ev})
}

// Attempt implements Sink.
func (s *WebhookSink) Attempt(ctx context.Context, ev domain.AttemptEvent) {
	s.post(ctx, webhookEnvelope{Type: "attempt", Payload: ev})
}

func (s *WebhookSink) post(ctx context.Context, env webhookEnvelope) {
	body, err := json.Marshal(env)
	if err != nil {
		s.log.Error("marshal webhook event", "type", env.Type, "error", err)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = s.maxElapsed

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook HTTP %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("webhook HTTP %d", resp.StatusCode))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		s.log.Warn("webhook delivery failed", "type", env.Type, "error", err)
	}
}
