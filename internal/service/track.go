// Package service assembles the engine, its ingest paths, notification sinks
// and the admin API into one runnable process.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/krishan2005op/safe-track-go/common/database"
	mqttcommon "github.com/krishan2005op/safe-track-go/common/mqtt"
	rediscommon "github.com/krishan2005op/safe-track-go/common/redis"
	"github.com/krishan2005op/safe-track-go/internal/catalog"
	"github.com/krishan2005op/safe-track-go/internal/clock"
	"github.com/krishan2005op/safe-track-go/internal/config"
	"github.com/krishan2005op/safe-track-go/internal/consumer"
	"github.com/krishan2005op/safe-track-go/internal/density"
	"github.com/krishan2005op/safe-track-go/internal/engine"
	"github.com/krishan2005op/safe-track-go/internal/httpapi"
	"github.com/krishan2005op/safe-track-go/internal/metrics"
	"github.com/krishan2005op/safe-track-go/internal/models"
	"github.com/krishan2005op/safe-track-go/internal/notify"
	"github.com/krishan2005op/safe-track-go/internal/repository"
	"github.com/krishan2005op/safe-track-go/internal/simulation"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// TrackService wires every component of the tracker.
type TrackService struct {
	config   *config.Config
	logger   *zap.Logger
	clock    clock.Clock
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// optional backends, nil when not configured
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	engine     *engine.Engine
	dispatcher *notify.Dispatcher
	zoneRepo   *repository.ZoneRepository
	archive    *repository.AlertArchive

	watcher          *catalog.Watcher
	positionConsumer *consumer.PositionConsumer
	densityConsumer  *consumer.DensityConsumer
	simulator        *simulation.Runner
	handler          http.Handler
	server           *Server

	addrMu     sync.Mutex
	listenAddr net.Addr
	stopOnce   sync.Once
}

// NewTrackService connects the configured backends and loads the initial zone
// catalog. Nothing runs until Start.
func NewTrackService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*TrackService, error) {
	s := &TrackService{
		config:   cfg,
		logger:   logger,
		clock:    clock.Real{},
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.New(s.registry)

	if err := s.connect(ctx); err != nil {
		s.closeBackends()
		return nil, err
	}

	s.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
		Burst:      cfg.Notify.Burst,
	}, s.sinks(), s.metrics, logger.Named("notify"))
	s.dispatcher.Start()

	eng, err := engine.New(engineConfig(cfg), s.clock, s.dispatcher, s.metrics, logger.Named("engine"))
	if err != nil {
		return s.abort(fmt.Errorf("failed to create engine: %w", err))
	}
	s.engine = eng

	if err := s.loadInitialZones(ctx); err != nil {
		return s.abort(err)
	}
	if err := s.buildRunners(); err != nil {
		return s.abort(err)
	}
	return s, nil
}

// abort releases whatever NewTrackService had set up before failing.
func (s *TrackService) abort(err error) (*TrackService, error) {
	_ = s.dispatcher.Close(context.Background())
	s.closeBackends()
	return nil, err
}

func engineConfig(cfg *config.Config) engine.Config {
	e := cfg.Engine
	return engine.Config{
		DwellThreshold:      e.DwellThreshold,
		AlertCooldown:       e.AlertCooldown,
		StaleSubjectTimeout: e.StaleSubjectTimeout,
		AlertRetention:      e.AlertRetention,
		Density: density.Config{
			Alpha:      e.DensityAlpha,
			Thresholds: density.Thresholds(e.DensityThresholds),
			Window:     e.DensityTrendWindow,
		},
	}
}

// connect opens Postgres, Redis and MQTT as configured.
func (s *TrackService) connect(ctx context.Context) error {
	cfg := s.config

	if cfg.Zones.Source == config.ZoneSourcePostgres {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		s.db = db
		if err := repository.EnsureSchema(ctx, db); err != nil {
			return err
		}
		s.zoneRepo = repository.NewZoneRepository(db, s.logger.Named("zones_repo"))
		s.archive = repository.NewAlertArchive(db, s.logger.Named("archive"))
	}

	if cfg.Redis.Addr != "" {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, client); err != nil {
			_ = client.Close()
			return err
		}
		s.redisClient = client
	}

	if cfg.MQTT.Broker != "" {
		client, err := mqttcommon.NewClient(&cfg.MQTT, s.logger.Named("mqtt"))
		if err != nil {
			return err
		}
		s.mqttClient = client
	}

	s.logger.Info("Backends connected",
		zap.Bool("postgres", s.db != nil),
		zap.Bool("redis", s.redisClient != nil),
		zap.Bool("mqtt", s.mqttClient != nil),
	)
	return nil
}

func (s *TrackService) sinks() []notify.Sink {
	cfg := s.config.Notify
	sinks := []notify.Sink{notify.NewLogSink(s.logger.Named("events"))}
	if s.redisClient != nil {
		sinks = append(sinks,
			notify.NewRedisStreamSink(s.redisClient, cfg.EventStream),
			notify.NewStateCacheSink(notify.NewRedisKVStore(s.redisClient), cfg.StateKeyPrefix, cfg.StateTTL),
		)
	}
	if s.mqttClient != nil {
		sinks = append(sinks, notify.NewMQTTSink(s.mqttClient, cfg.EventTopicPrefix, s.config.MQTT.QoS))
	}
	if s.archive != nil {
		sinks = append(sinks, s.archive)
	}
	if cfg.WebhookURL != "" {
		types := make([]models.EventType, 0, len(cfg.WebhookTypes))
		for _, t := range cfg.WebhookTypes {
			types = append(types, models.EventType(t))
		}
		sinks = append(sinks, notify.NewWebhookSink(notify.WebhookConfig{
			URL:        cfg.WebhookURL,
			Timeout:    cfg.WebhookTimeout,
			RetryCount: cfg.WebhookRetries,
			Types:      types,
		}, s.logger.Named("webhook")))
	}
	return sinks
}

func (s *TrackService) loadInitialZones(ctx context.Context) error {
	var zones []models.Zone
	switch s.config.Zones.Source {
	case config.ZoneSourceFile:
		z, err := catalog.LoadFile(s.config.Zones.File)
		if err != nil {
			return err
		}
		zones = z
	case config.ZoneSourcePostgres:
		if _, err := s.zoneRepo.SeedIfEmpty(ctx, catalog.DemoZones()); err != nil {
			return err
		}
		z, err := s.zoneRepo.ListZones(ctx)
		if err != nil {
			return err
		}
		zones = z
	default:
		zones = catalog.DemoZones()
	}

	res, err := s.engine.LoadZones(zones)
	if err != nil {
		return fmt.Errorf("failed to load %s zone catalog: %w", s.config.Zones.Source, err)
	}
	s.logger.Info("Zone catalog loaded",
		zap.String("source", s.config.Zones.Source),
		zap.Int("zones", res.Zones),
		zap.Uint64("version", res.Version),
	)
	return nil
}

func (s *TrackService) buildRunners() error {
	cfg := s.config

	if cfg.Zones.Source == config.ZoneSourceFile {
		w, err := catalog.NewWatcher(cfg.Zones.File, cfg.Zones.ReloadDebounce, s.reloadZones, s.logger.Named("zone_watcher"))
		if err != nil {
			return err
		}
		s.watcher = w
	}

	if s.mqttClient != nil {
		s.positionConsumer = consumer.NewPositionConsumer(
			s.mqttClient, s.engine, cfg.Ingest.PositionTopic, cfg.MQTT.QoS, s.clock, s.logger.Named("position_consumer"))
	}
	if s.redisClient != nil {
		s.densityConsumer = consumer.NewDensityConsumer(consumer.StreamConfig{
			Stream:         cfg.Ingest.DensityStream,
			ConsumerGroup:  cfg.Ingest.ConsumerGroup,
			ConsumerName:   cfg.Ingest.ConsumerName,
			BatchSize:      cfg.Ingest.ReadBatch,
			Block:          cfg.Ingest.ReadBlock,
			ReportInterval: cfg.Ingest.MetricsLogEach,
		}, s.redisClient, s.engine, s.clock, s.logger.Named("density_consumer"))
	}

	if cfg.Simulation.Enabled {
		sim := simulation.New(rand.New(rand.NewSource(cfg.Simulation.Seed)), cfg.Simulation.Subjects, simulation.DefaultCrowdProfiles())
		s.simulator = simulation.NewRunner(sim, s.engine, s.clock,
			cfg.Engine.SampleInterval, cfg.Simulation.DensityInterval, s.logger.Named("simulation"))
	}

	router := httpapi.NewRouter(s.logger.Named("http"))
	router.RegisterHealthRoutes()
	router.RegisterMetricsRoutes(s.registry)
	router.RegisterTrackingRoutes(httpapi.NewHandler(s.engine, s.clock, s.logger.Named("api")))
	s.handler = router
	if cfg.HTTP.Addr != "" {
		s.server = NewServer(cfg.HTTP.Addr, router, s.logger.Named("http"))
	}
	return nil
}

func (s *TrackService) reloadZones(zones []models.Zone) error {
	_, err := s.engine.LoadZones(zones)
	return err
}

// Start runs every component until ctx is cancelled or one of them fails.
func (s *TrackService) Start(ctx context.Context) error {
	s.logger.Info("Starting safe-track service",
		zap.String("zone_source", s.config.Zones.Source),
		zap.Bool("simulation", s.simulator != nil),
	)

	var ln net.Listener
	if s.server != nil {
		l, err := net.Listen("tcp", s.config.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.config.HTTP.Addr, err)
		}
		ln = l
		s.addrMu.Lock()
		s.listenAddr = l.Addr()
		s.addrMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.runTicker(gctx) })
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(gctx) })
	}
	if s.positionConsumer != nil {
		g.Go(func() error { return s.positionConsumer.Start(gctx) })
	}
	if s.densityConsumer != nil {
		g.Go(func() error { return s.densityConsumer.Start(gctx) })
	}
	if s.simulator != nil {
		g.Go(func() error { return s.simulator.Run(gctx) })
	}
	if ln != nil {
		g.Go(func() error { return s.server.Serve(ln) })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.server.Stop(shutdownCtx)
		})
	}

	return g.Wait()
}

// runTicker drives engine maintenance: stale subject eviction and alert pruning.
func (s *TrackService) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Engine.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res := s.engine.Tick(s.clock.Now())
			if res.AlertsPruned > 0 {
				s.logger.Debug("Resolved alerts pruned", zap.Int("count", res.AlertsPruned))
			}
		}
	}
}

// Addr is the bound HTTP address once Start is listening.
func (s *TrackService) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.listenAddr
}

// Handler serves the admin API.
func (s *TrackService) Handler() http.Handler {
	return s.handler
}

// Engine returns the tracking engine.
func (s *TrackService) Engine() *engine.Engine {
	return s.engine
}

// Stop closes the engine, drains pending notifications and releases backends.
// Call it after Start has returned.
func (s *TrackService) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping safe-track service")
		_ = s.engine.Close()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.dispatcher.Close(ctx); err != nil {
			s.logger.Warn("Notification queue not fully drained", zap.Error(err))
		}
		stats := s.dispatcher.Stats()
		s.logger.Info("Notification totals",
			zap.Int64("queued", stats.Queued),
			zap.Int64("delivered", stats.Delivered),
			zap.Int64("dropped", stats.Dropped),
			zap.Int64("failed", stats.Failed),
		)

		s.closeBackends()
	})
	return nil
}

func (s *TrackService) closeBackends() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
}
