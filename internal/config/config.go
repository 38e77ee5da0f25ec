package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/krishan2005op/safe-track-go/common/config"
)

// Zone catalog sources.
const (
	ZoneSourceDemo     = "demo"
	ZoneSourceFile     = "file"
	ZoneSourcePostgres = "postgres"
)

// Config is the safe-track service configuration.
type Config struct {
	Database config.DatabaseConfig
	// Redis and MQTT are optional: an empty address disables the backend
	Redis config.RedisConfig
	MQTT  config.MQTTConfig

	Engine struct {
		SampleInterval      time.Duration
		DwellThreshold      time.Duration // default 2x SampleInterval
		AlertCooldown       time.Duration
		AlertRetention      time.Duration
		StaleSubjectTimeout time.Duration
		TickInterval        time.Duration
		DensityAlpha        float64
		DensityThresholds   [3]float64
		DensityTrendWindow  int
	}

	Zones struct {
		Source         string
		File           string
		ReloadDebounce time.Duration
	}

	Ingest struct {
		PositionTopic  string // MQTT, "+" matches the subject id
		DensityStream  string // Redis stream
		ConsumerGroup  string
		ConsumerName   string
		ReadBatch      int64
		ReadBlock      time.Duration
		MetricsLogEach time.Duration
	}

	Notify struct {
		EventStream      string
		EventTopicPrefix string
		StateKeyPrefix   string
		StateTTL         time.Duration
		QueueSize        int
		RatePerSec       float64
		Burst            int
		// empty URL disables the webhook sink
		WebhookURL     string
		WebhookTimeout time.Duration
		WebhookRetries int
		WebhookTypes   []string
	}

	Simulation struct {
		Enabled         bool
		Seed            int64
		Subjects        int
		DensityInterval time.Duration
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "safetrack")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "safe-track")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	var err error
	e := &cfg.Engine
	if e.SampleInterval, err = getEnvMillis("SAMPLE_INTERVAL_MS", 4*time.Second); err != nil {
		return nil, err
	}
	if e.DwellThreshold, err = getEnvMillis("DWELL_THRESHOLD_MS", 2*e.SampleInterval); err != nil {
		return nil, err
	}
	if e.AlertCooldown, err = getEnvMillis("ALERT_COOLDOWN_MS", 60*time.Second); err != nil {
		return nil, err
	}
	if e.AlertRetention, err = getEnvMillis("ALERT_RETENTION_MS", time.Hour); err != nil {
		return nil, err
	}
	if e.StaleSubjectTimeout, err = getEnvMillis("STALE_SUBJECT_TIMEOUT_MS", 5*time.Minute); err != nil {
		return nil, err
	}
	if e.TickInterval, err = getEnvMillis("TICK_INTERVAL_MS", e.SampleInterval); err != nil {
		return nil, err
	}
	if e.DensityAlpha, err = getEnvFloat("DENSITY_ALPHA", 0.3); err != nil {
		return nil, err
	}
	if e.DensityThresholds, err = parseThresholds(getEnv("DENSITY_TIER_THRESHOLDS", "40,60,80")); err != nil {
		return nil, err
	}
	if e.DensityTrendWindow, err = getEnvInt("DENSITY_TREND_WINDOW", 10); err != nil {
		return nil, err
	}

	cfg.Zones.Source = strings.ToLower(getEnv("ZONE_SOURCE", ZoneSourceDemo))
	cfg.Zones.File = getEnv("ZONE_FILE", "zones.yaml")
	if cfg.Zones.ReloadDebounce, err = getEnvMillis("ZONE_RELOAD_DEBOUNCE_MS", 250*time.Millisecond); err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	cfg.Ingest.PositionTopic = getEnv("POSITION_TOPIC", "safetrack/+/position")
	cfg.Ingest.DensityStream = getEnv("DENSITY_STREAM", "safetrack:density")
	cfg.Ingest.ConsumerGroup = getEnv("CONSUMER_GROUP", "safe-track")
	cfg.Ingest.ConsumerName = getEnv("CONSUMER_NAME", "safe-track-"+hostname)
	cfg.Ingest.ReadBatch = 100
	cfg.Ingest.ReadBlock = time.Second
	cfg.Ingest.MetricsLogEach = time.Minute

	cfg.Notify.EventStream = getEnv("EVENT_STREAM", "safetrack:events")
	cfg.Notify.EventTopicPrefix = getEnv("EVENT_TOPIC_PREFIX", "safetrack/events")
	cfg.Notify.StateKeyPrefix = getEnv("STATE_KEY_PREFIX", "safetrack")
	cfg.Notify.StateTTL = 10 * time.Minute
	if cfg.Notify.QueueSize, err = getEnvInt("NOTIFY_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.Notify.RatePerSec, err = getEnvFloat("NOTIFY_RATE_PER_SEC", 0); err != nil {
		return nil, err
	}
	if cfg.Notify.Burst, err = getEnvInt("NOTIFY_BURST", 50); err != nil {
		return nil, err
	}
	cfg.Notify.WebhookURL = getEnv("WEBHOOK_URL", "")
	if cfg.Notify.WebhookTimeout, err = getEnvMillis("WEBHOOK_TIMEOUT_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Notify.WebhookRetries, err = getEnvInt("WEBHOOK_RETRIES", 2); err != nil {
		return nil, err
	}
	cfg.Notify.WebhookTypes = splitList(getEnv("WEBHOOK_EVENT_TYPES", "alert"))

	cfg.Simulation.Enabled = getEnv("SIMULATION_ENABLED", "false") == "true"
	if cfg.Simulation.Seed, err = getEnvInt64("SIMULATION_SEED", time.Now().UnixNano()); err != nil {
		return nil, err
	}
	if cfg.Simulation.Subjects, err = getEnvInt("SIMULATION_SUBJECTS", 1); err != nil {
		return nil, err
	}
	cfg.Simulation.DensityInterval = 3 * time.Second

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that the engine would otherwise reject later.
func (c *Config) Validate() error {
	e := c.Engine
	if e.SampleInterval <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL_MS must be positive")
	}
	if e.DwellThreshold < 0 || e.AlertCooldown < 0 {
		return fmt.Errorf("DWELL_THRESHOLD_MS and ALERT_COOLDOWN_MS must not be negative")
	}
	if e.StaleSubjectTimeout <= 0 || e.TickInterval <= 0 {
		return fmt.Errorf("STALE_SUBJECT_TIMEOUT_MS and TICK_INTERVAL_MS must be positive")
	}
	if e.DensityAlpha <= 0 || e.DensityAlpha > 1 {
		return fmt.Errorf("DENSITY_ALPHA must be in (0, 1], got %v", e.DensityAlpha)
	}
	if e.DensityTrendWindow < 1 {
		return fmt.Errorf("DENSITY_TREND_WINDOW must be positive")
	}
	switch c.Zones.Source {
	case ZoneSourceDemo, ZoneSourceFile, ZoneSourcePostgres:
	default:
		return fmt.Errorf("ZONE_SOURCE must be demo, file or postgres, got %q", c.Zones.Source)
	}
	if c.Notify.QueueSize < 1 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive")
	}
	if c.Simulation.Subjects < 0 {
		return fmt.Errorf("SIMULATION_SUBJECTS must not be negative")
	}
	return nil
}

// parseThresholds reads "40,60,80" into strictly increasing bounds in (0, 100).
func parseThresholds(raw string) ([3]float64, error) {
	var out [3]float64
	parts := strings.Split(raw, ",")
	if len(parts) != len(out) {
		return out, fmt.Errorf("DENSITY_TIER_THRESHOLDS needs %d values, got %q", len(out), raw)
	}
	prev := 0.0
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, fmt.Errorf("DENSITY_TIER_THRESHOLDS: %w", err)
		}
		if v <= prev || v >= 100 {
			return out, fmt.Errorf("DENSITY_TIER_THRESHOLDS must be strictly increasing within (0, 100), got %q", raw)
		}
		out[i] = v
		prev = v
	}
	return out, nil
}

// splitList reads a comma separated list, dropping empty items.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// getEnvMillis reads an integer number of milliseconds.
func getEnvMillis(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
