package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	commonredis "github.com/krishan2005op/safe-track-go/common/redis"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStreamSink appends every event to a Redis stream.
type RedisStreamSink struct {
	client *redis.Client
	stream string
}

func NewRedisStreamSink(client *redis.Client, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream}
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Deliver(ctx context.Context, evt models.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", evt.EventType(), err)
	}
	_, err = commonredis.PublishToStream(ctx, s.client, s.stream, map[string]interface{}{
		"type":      string(evt.EventType()),
		"key":       evt.EventKey(),
		"data":      data,
		"timestamp": evt.OccurredAt().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", s.stream, err)
	}
	return nil
}

// Publisher is the subset of the MQTT client used for outbound events.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTSink publishes each event as an Envelope on {prefix}/{type}.
type MQTTSink struct {
	publisher Publisher
	prefix    string
	qos       byte
}

func NewMQTTSink(publisher Publisher, prefix string, qos byte) *MQTTSink {
	return &MQTTSink{publisher: publisher, prefix: prefix, qos: qos}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Deliver(_ context.Context, evt models.Event) error {
	payload, err := Encode(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", evt.EventType(), err)
	}
	topic := s.prefix + "/" + string(evt.EventType())
	if err := s.publisher.Publish(topic, s.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, evt models.Event) error {
	fields := []zap.Field{
		zap.String("event_type", string(evt.EventType())),
		zap.Time("occurred_at", evt.OccurredAt()),
	}
	switch e := evt.(type) {
	case models.TransitionEvent:
		fields = append(fields,
			zap.String("subject_id", e.SubjectID),
			zap.String("from_zone", e.FromZone),
			zap.String("to_zone", e.ToZone),
		)
	case models.AlertEvent:
		fields = append(fields,
			zap.String("alert_id", e.AlertID),
			zap.String("subject_id", e.SubjectID),
			zap.String("zone_id", e.ZoneID),
			zap.String("severity", string(e.Severity)),
			zap.String("state", string(e.State)),
		)
	case models.DensityChangedEvent:
		fields = append(fields,
			zap.String("zone_id", e.ZoneID),
			zap.String("previous_tier", string(e.PreviousTier)),
			zap.String("tier", string(e.Tier)),
			zap.Float64("value", e.Value),
		)
	default:
		fields = append(fields, zap.String("key", evt.EventKey()))
	}
	s.logger.Info("Event", fields...)
	return nil
}

// StateCacheSink projects the latest state per entity into a KV store so
// dashboards can read it without replaying the stream:
//
//	{prefix}:subject:{id}:zone   current zone id
//	{prefix}:alert:{id}          latest AlertEvent JSON (deleted on Resolved)
//	{prefix}:density:{zone}      latest DensityChangedEvent JSON
type StateCacheSink struct {
	kv     KVStore
	prefix string
	ttl    time.Duration
}

func NewStateCacheSink(kv KVStore, prefix string, ttl time.Duration) *StateCacheSink {
	return &StateCacheSink{kv: kv, prefix: prefix, ttl: ttl}
}

func (s *StateCacheSink) Name() string { return "state_cache" }

func (s *StateCacheSink) Deliver(ctx context.Context, evt models.Event) error {
	switch e := evt.(type) {
	case models.TransitionEvent:
		return s.kv.Set(ctx, s.SubjectZoneKey(e.SubjectID), e.ToZone, s.ttl)
	case models.AlertEvent:
		if e.State == models.AlertResolved {
			return s.kv.Delete(ctx, s.AlertKey(e.AlertID))
		}
		return s.setJSON(ctx, s.AlertKey(e.AlertID), e)
	case models.DensityChangedEvent:
		return s.setJSON(ctx, s.DensityKey(e.ZoneID), e)
	default:
		return nil
	}
}

func (s *StateCacheSink) SubjectZoneKey(subjectID string) string {
	return fmt.Sprintf("%s:subject:%s:zone", s.prefix, subjectID)
}

func (s *StateCacheSink) AlertKey(alertID string) string {
	return fmt.Sprintf("%s:alert:%s", s.prefix, alertID)
}

func (s *StateCacheSink) DensityKey(zoneID string) string {
	return fmt.Sprintf("%s:density:%s", s.prefix, zoneID)
}

func (s *StateCacheSink) setJSON(ctx context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, string(b), s.ttl)
}
