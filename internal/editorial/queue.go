// Package editorial delivers follow-up requests to the newsroom.
package editorial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
)

// Queue receives follow-up requests.
type Queue interface {
	Publish(ctx context.Context, req database.FollowUpRequest) error
}

// RegionResolver maps a thread to the slug of its region.
type RegionResolver interface {
	GetThreadRegionSlug(threadID int64) (string, error)
}

// New builds the queue described by cfg. Every configured sink must accept a
// request for it to count as delivered. With nothing configured requests are
// logged.
func New(cfg config.Editorial, regions RegionResolver) (Queue, error) {
	var sinks Fanout
	if cfg.Log {
		sinks = append(sinks, LogQueue{})
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhookQueue(cfg.WebhookURL, cfg.WebhookTimeout))
	}
	if cfg.BlobAccountURL != "" {
		bq, err := NewBlobQueue(cfg.BlobAccountURL, cfg.BlobContainer, regions)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, bq)
	}

	switch len(sinks) {
	case 0:
		return LogQueue{}, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

// LogQueue writes each request to the log.
type LogQueue struct{}

func (LogQueue) Publish(_ context.Context, req database.FollowUpRequest) error {
	logrus.WithFields(logrus.Fields{
		"request_id": req.ID,
		"thread_id":  req.ThreadID,
		"trigger_id": req.TriggerID,
		"priority":   fmt.Sprintf("%.2f", req.Priority),
	}).Infof("Follow-up requested: %s (%s)", req.SuggestedAngle, req.Reason)
	return nil
}

// WebhookQueue POSTs each request as JSON.
type WebhookQueue struct {
	url    string
	client *resty.Client
}

// NewWebhookQueue creates a webhook sink. A zero timeout means 10 seconds.
func NewWebhookQueue(url string, timeout time.Duration) *WebhookQueue {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookQueue{
		url: url,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "followup/1.0"),
	}
}

func (w *WebhookQueue) Publish(ctx context.Context, req database.FollowUpRequest) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.ID).
		SetBody(req).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Fanout publishes to every queue and fails if any of them fails.
type Fanout []Queue

func (f Fanout) Publish(ctx context.Context, req database.FollowUpRequest) error {
	var errs []error
	for _, q := range f {
		if err := q.Publish(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
