package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"solana-reward-distributor/internal/domain"
)

// SlackSink posts cycle summaries and terminal batch failures to an incoming webhook.
// Routine attempts are not posted.
type SlackSink struct {
	url  string
	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
	log  *slog.Logger
}

// NewSlackSink creates a SlackSink.
func NewSlackSink(webhookURL string, log *slog.Logger) *SlackSink {
	return &SlackSink{
		url:  webhookURL,
		post: slack.PostWebhookContext,
		log:  log.With("component", "slack"),
	}
}

// Cycle implements Sink. Only end events are posted.
func (s *SlackSink) Cycle(ctx context.Context, ev domain.CycleEvent) {
	if ev.Phase != domain.PhaseEnd {
		return
	}

	color := "good"
	switch {
	case ev.Error != "" && ev.BatchesConfirmed == 0:
		color = "danger"
	case ev.BatchesFailed > 0 || ev.Error != "":
		color = "warning"
	}

	fields := []slack.AttachmentField{
		{Title: "Status", Value: string(ev.Status), Short: true},
		{Title: "Total reward", Value: ev.TotalReward.String(), Short: true},
		{Title: "Holders", Value: fmt.Sprintf("%d qualified / %d", ev.HoldersQualified, ev.HoldersTotal), Short: true},
		{Title: "Batches", Value: fmt.Sprintf("%d confirmed, %d failed of %d", ev.BatchesConfirmed, ev.BatchesFailed, ev.BatchesTotal), Short: true},
	}
	if ev.Error != "" {
		fields = append(fields, slack.AttachmentField{Title: "Error", Value: ev.Error})
	}

	s.send(ctx, &slack.WebhookMessage{
		Text: fmt.Sprintf("Reward cycle `%s` finished", ev.CycleID),
		Attachments: []slack.Attachment{{
			Color:  color,
			Fields: fields,
		}},
	})
}

// Attempt implements Sink. Only failures are posted.
func (s *SlackSink) Attempt(ctx context.Context, ev domain.AttemptEvent) {
	if ev.Outcome != domain.OutcomeFailed {
		return
	}
	s.send(ctx, &slack.WebhookMessage{
		Text: fmt.Sprintf(":warning: batch `%s` failed after %d attempts in cycle `%s`: %s",
			ev.BatchID, ev.Attempt, ev.CycleID, ev.Error),
	})
}

func (s *SlackSink) send(ctx context.Context, msg *slack.WebhookMessage) {
	if err := s.post(ctx, s.url, msg); err != nil {
		s.log.Warn("slack post failed", "error", err)
	}
}
