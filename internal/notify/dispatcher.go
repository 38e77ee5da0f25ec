package notify

import (
	"context"
	"sync"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/metrics"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DispatcherConfig tunes the delivery queue.
type DispatcherConfig struct {
	QueueSize      int
	RatePerSec     float64 // <= 0 disables throttling
	Burst          int
	DeliverTimeout time.Duration
}

// DispatcherStats is a point-in-time copy of the delivery counters.
type DispatcherStats struct {
	Queued    int64
	Delivered int64
	Dropped   int64
	Failed    int64
}

// Dispatcher fans events out to sinks from a single goroutine. Publish never
// blocks: when the queue is full the event is dropped and counted.
type Dispatcher struct {
	cfg     DispatcherConfig
	sinks   []Sink
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger

	queue chan models.Event
	done  chan struct{}
	// cancelled when Close gives up waiting; aborts delivery of the backlog
	stopCtx context.Context
	stop    context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	started bool

	statsMu sync.Mutex
	stats   DispatcherStats
}

// NewDispatcher creates a dispatcher. Call Start before publishing.
func NewDispatcher(cfg DispatcherConfig, sinks []Sink, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 5 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	stopCtx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		sinks:   sinks,
		limiter: limiter,
		metrics: m,
		logger:  logger,
		queue:   make(chan models.Event, cfg.QueueSize),
		done:    make(chan struct{}),
		stopCtx: stopCtx,
		stop:    stop,
	}
}

// Start launches the delivery goroutine. It is a no-op once started or closed.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.loop()
}

// Publish enqueues evt. It reports false when the event was dropped.
func (d *Dispatcher) Publish(evt models.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.recordDrop(evt, "closed")
		return false
	}

	select {
	case d.queue <- evt:
		d.statsMu.Lock()
		d.stats.Queued++
		d.statsMu.Unlock()
		if d.metrics != nil {
			d.metrics.NotificationsQueued.Inc()
		}
		return true
	default:
		d.recordDrop(evt, "queue full")
		return false
	}
}

// Close stops accepting events and waits for the queue to drain. If ctx ends
// first, the in-flight delivery is cancelled and whatever is still queued is
// dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		for evt := range d.queue {
			d.recordDrop(evt, "never started")
		}
		d.stop()
		close(d.done)
		return nil
	}

	select {
	case <-d.done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		<-d.done
		return ctx.Err()
	}
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for evt := range d.queue {
		if d.stopCtx.Err() != nil {
			d.recordDrop(evt, "shutdown")
			continue
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(d.stopCtx); err != nil {
				d.recordDrop(evt, "shutdown")
				continue
			}
		}
		d.deliver(evt)
	}
}

func (d *Dispatcher) deliver(evt models.Event) {
	ctx, cancel := context.WithTimeout(d.stopCtx, d.cfg.DeliverTimeout)
	defer cancel()

	failed := false
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, evt); err != nil {
			failed = true
			if d.metrics != nil {
				d.metrics.SinkFailures.WithLabelValues(s.Name()).Inc()
			}
			d.logger.Warn("Failed to deliver event",
				zap.String("sink", s.Name()),
				zap.String("event_type", string(evt.EventType())),
				zap.String("key", evt.EventKey()),
				zap.Error(err),
			)
		}
	}

	d.statsMu.Lock()
	if failed {
		d.stats.Failed++
	} else {
		d.stats.Delivered++
	}
	d.statsMu.Unlock()
}

func (d *Dispatcher) recordDrop(evt models.Event, reason string) {
	d.statsMu.Lock()
	d.stats.Dropped++
	d.statsMu.Unlock()
	if d.metrics != nil {
		d.metrics.NotificationsDrop.Inc()
	}
	d.logger.Warn("Dropped event",
		zap.String("reason", reason),
		zap.String("event_type", string(evt.EventType())),
		zap.String("key", evt.EventKey()),
	)
}
