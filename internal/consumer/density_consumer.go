package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	rediscommon "github.com/krishan2005op/safe-track-go/common/redis"
	"github.com/krishan2005op/safe-track-go/internal/clock"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DensitySubmitter accepts density samples.
type DensitySubmitter interface {
	SubmitDensitySample(zoneID string, value float64, ts time.Time) (*models.DensityChangedEvent, error)
}

// StreamConfig names the density stream and consumer group.
type StreamConfig struct {
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64
	Block         time.Duration
	// how often the counters are written to the log; 0 disables
	ReportInterval time.Duration
}

// DensityConsumer reads occupancy samples from a Redis stream consumer group.
// Entries carry either a "data" JSON field or flat zone_id/value/timestamp fields.
type DensityConsumer struct {
	cfg         StreamConfig
	redisClient *redis.Client
	target      DensitySubmitter
	clock       clock.Clock
	metrics     *Metrics
	logger      *zap.Logger
}

// NewDensityConsumer creates a density consumer.
func NewDensityConsumer(
	cfg StreamConfig,
	redisClient *redis.Client,
	target DensitySubmitter,
	clk clock.Clock,
	logger *zap.Logger,
) *DensityConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	// go-redis treats a zero block as "wait forever"
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &DensityConsumer{
		cfg:         cfg,
		redisClient: redisClient,
		target:      target,
		clock:       clk,
		metrics:     NewMetrics(),
		logger:      logger,
	}
}

// Start creates the consumer group and consumes until ctx is cancelled,
// backing off exponentially while Redis is failing.
func (c *DensityConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.cfg.Stream, c.cfg.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.cfg.Stream, err)
	}
	c.logger.Info("Density consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("consumer_group", c.cfg.ConsumerGroup),
		zap.String("consumer_name", c.cfg.ConsumerName),
	)

	if c.cfg.ReportInterval > 0 {
		go c.reportMetrics(ctx)
	}

	backoff := time.Second
	maxBackoff := 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.consumeBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume density stream",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second
	}
}

// GetMetrics returns a snapshot of the consumer counters.
func (c *DensityConsumer) GetMetrics() Metrics {
	return c.metrics.GetSnapshot()
}

// consumeBatch reads one batch and processes it. Every read entry is acked,
// including ones that failed, so a malformed entry cannot block the group.
func (c *DensityConsumer) consumeBatch(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.cfg.Stream,
		c.cfg.ConsumerGroup, c.cfg.ConsumerName, c.cfg.BatchSize, c.cfg.Block)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", c.cfg.Stream, err)
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		if err := c.processMessage(msg); err != nil {
			c.logger.Warn("Failed to process density message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		ids = append(ids, msg.ID)
	}
	if err := rediscommon.Ack(ctx, c.redisClient, c.cfg.Stream, c.cfg.ConsumerGroup, ids...); err != nil {
		return fmt.Errorf("failed to ack %d messages: %w", len(ids), err)
	}
	return nil
}

func (c *DensityConsumer) processMessage(msg rediscommon.StreamMessage) error {
	start := time.Now()
	c.metrics.IncrementProcessed()

	zoneID, value, ts, err := parseDensityValues(msg.Values)
	if err != nil {
		c.metrics.IncrementFailed("parse")
		return err
	}
	if ts.IsZero() {
		ts = c.clock.Now()
	}

	if _, err := c.target.SubmitDensitySample(zoneID, value, ts); err != nil {
		if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrUnknownZone) {
			c.metrics.IncrementFailed("rejected")
		} else {
			c.metrics.IncrementFailed("other")
		}
		return fmt.Errorf("density sample for %s rejected: %w", zoneID, err)
	}
	c.metrics.IncrementSucceeded(time.Since(start))
	return nil
}

func parseDensityValues(values map[string]interface{}) (string, float64, time.Time, error) {
	if raw, ok := values["data"].(string); ok {
		var p densityPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return "", 0, time.Time{}, fmt.Errorf("failed to parse density data: %w", err)
		}
		if p.ZoneID == "" || p.Value == nil {
			return "", 0, time.Time{}, fmt.Errorf("density data needs zone_id and value")
		}
		return p.ZoneID, *p.Value, p.Timestamp.Time, nil
	}

	zoneID, _ := values["zone_id"].(string)
	rawValue, _ := values["value"].(string)
	if zoneID == "" || rawValue == "" {
		return "", 0, time.Time{}, fmt.Errorf("density entry needs zone_id and value")
	}
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("invalid density value %q: %w", rawValue, err)
	}
	rawTS, _ := values["timestamp"].(string)
	ts, err := parseTimestamp(rawTS)
	if err != nil {
		return "", 0, time.Time{}, err
	}
	return zoneID, value, ts, nil
}

func (c *DensityConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := c.metrics.GetSnapshot()
			c.logger.Info("Density consumer metrics",
				zap.Int64("processed", m.MessagesProcessed),
				zap.Int64("succeeded", m.MessagesSucceeded),
				zap.Int64("failed", m.MessagesFailed),
				zap.Int64("errors_parse", m.ErrorsParse),
				zap.Int64("errors_rejected", m.ErrorsRejected),
				zap.Duration("avg_processing_time", m.AverageProcessingTime()),
			)
		}
	}
}
