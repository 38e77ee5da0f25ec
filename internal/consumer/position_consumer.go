package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqttcommon "github.com/krishan2005op/safe-track-go/common/mqtt"
	"github.com/krishan2005op/safe-track-go/internal/clock"
	"github.com/krishan2005op/safe-track-go/internal/engine"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"go.uber.org/zap"
)

// Subscriber is the subset of the MQTT client the position consumer needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// PositionSubmitter accepts position samples.
type PositionSubmitter interface {
	SubmitPosition(subjectID string, x, y float64, ts time.Time) (*engine.PositionResult, error)
}

// PositionConsumer feeds MQTT position messages into the engine. Topics look
// like safetrack/{subject_id}/position; a subject_id in the payload wins.
type PositionConsumer struct {
	subscriber Subscriber
	target     PositionSubmitter
	topic      string
	qos        byte
	clock      clock.Clock
	metrics    *Metrics
	logger     *zap.Logger
}

// NewPositionConsumer creates a position consumer.
func NewPositionConsumer(
	subscriber Subscriber,
	target PositionSubmitter,
	topic string,
	qos byte,
	clk clock.Clock,
	logger *zap.Logger,
) *PositionConsumer {
	return &PositionConsumer{
		subscriber: subscriber,
		target:     target,
		topic:      topic,
		qos:        qos,
		clock:      clk,
		metrics:    NewMetrics(),
		logger:     logger,
	}
}

// Start subscribes and blocks until ctx is cancelled.
func (c *PositionConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.topic, err)
	}
	c.logger.Info("Position consumer started", zap.String("topic", c.topic))

	<-ctx.Done()

	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.String("topic", c.topic), zap.Error(err))
	}
	c.logger.Info("Position consumer stopped")
	return nil
}

// GetMetrics returns a snapshot of the consumer counters.
func (c *PositionConsumer) GetMetrics() Metrics {
	return c.metrics.GetSnapshot()
}

func (c *PositionConsumer) handleMessage(topic string, payload []byte) error {
	start := time.Now()
	c.metrics.IncrementProcessed()

	var msg positionPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("failed to parse position message: %w", err)
	}
	subjectID := msg.SubjectID
	if subjectID == "" {
		subjectID = subjectFromTopic(topic)
	}
	if subjectID == "" || msg.X == nil || msg.Y == nil {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("position message on %s needs subject id, x and y", topic)
	}
	ts := msg.Timestamp.Time
	if ts.IsZero() {
		ts = c.clock.Now()
	}

	if _, err := c.target.SubmitPosition(subjectID, *msg.X, *msg.Y, ts); err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.metrics.IncrementFailed("rejected")
		} else {
			c.metrics.IncrementFailed("other")
		}
		return fmt.Errorf("position for %s rejected: %w", subjectID, err)
	}

	c.metrics.IncrementSucceeded(time.Since(start))
	return nil
}

// subjectFromTopic extracts {subject} from prefix/{subject}/position.
func subjectFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "position" {
		return ""
	}
	return parts[len(parts)-2]
}
