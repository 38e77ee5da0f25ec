package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookConfig points the webhook sink at an HTTP endpoint.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	RetryCount int
	// only these event types are posted; empty posts all
	Types []models.EventType
}

// WebhookSink POSTs each event Envelope as JSON to a fixed URL.
type WebhookSink struct {
	httpClient *resty.Client
	url        string
	types      map[models.EventType]bool
	logger     *zap.Logger
}

func NewWebhookSink(cfg WebhookConfig, logger *zap.Logger) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	var types map[models.EventType]bool
	if len(cfg.Types) > 0 {
		types = make(map[models.EventType]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			types[t] = true
		}
	}
	return &WebhookSink{httpClient: client, url: cfg.URL, types: types, logger: logger}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, evt models.Event) error {
	if s.types != nil && !s.types[evt.EventType()] {
		return nil
	}
	body, err := Encode(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", evt.EventType(), err)
	}

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Event-Type", string(evt.EventType())).
		SetBody(body).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to post %s event to webhook: %w", evt.EventType(), err)
	}
	if resp.IsError() {
		s.logger.Warn("Webhook rejected event",
			zap.String("type", string(evt.EventType())),
			zap.String("key", evt.EventKey()),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
