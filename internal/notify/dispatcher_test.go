package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/metrics"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func transition(i int) models.TransitionEvent {
	return models.TransitionEvent{
		SubjectID: fmt.Sprintf("s%d", i),
		FromZone:  models.Unzoned,
		ToZone:    "trail-path",
		Timestamp: t0.Add(time.Duration(i) * time.Second),
	}
}

func TestDispatcher_DeliversInOrderToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher(DispatcherConfig{QueueSize: 16}, []Sink{a, b}, nil, zap.NewNop())
	d.Start()

	for i := 0; i < 5; i++ {
		require.True(t, d.Publish(transition(i)))
	}
	require.NoError(t, d.Close(context.Background()))

	for _, s := range []*recordingSink{a, b} {
		got := s.delivered()
		require.Len(t, got, 5)
		for i, evt := range got {
			assert.Equal(t, fmt.Sprintf("s%d", i), evt.EventKey())
		}
	}
	stats := d.Stats()
	assert.Equal(t, int64(5), stats.Queued)
	assert.Equal(t, int64(5), stats.Delivered)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	gate := make(chan struct{})
	sink := &recordingSink{name: "slow", gate: gate}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(DispatcherConfig{QueueSize: 2}, []Sink{sink}, m, zap.NewNop())
	d.Start()

	// first event is picked up by the worker and blocks on the gate
	require.True(t, d.Publish(transition(0)))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)

	assert.True(t, d.Publish(transition(1)))
	assert.True(t, d.Publish(transition(2)))
	assert.False(t, d.Publish(transition(3)))

	close(gate)
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, sink.delivered(), 3)
	assert.Equal(t, int64(1), d.Stats().Dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDrop))
}

func TestDispatcher_SinkFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSink{name: "bad", err: errors.New("boom")}
	good := &recordingSink{name: "good"}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(DispatcherConfig{QueueSize: 4}, []Sink{bad, good}, m, zap.NewNop())
	d.Start()

	d.Publish(transition(0))
	d.Publish(transition(1))
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, good.delivered(), 2)
	assert.Equal(t, int64(2), d.Stats().Failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkFailures.WithLabelValues("bad")))
}

func TestDispatcher_PublishAfterCloseDrops(t *testing.T) {
	sink := &recordingSink{name: "a"}
	d := NewDispatcher(DispatcherConfig{QueueSize: 4}, []Sink{sink}, nil, zap.NewNop())
	d.Start()
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.False(t, d.Publish(transition(0)))
	assert.Empty(t, sink.delivered())
	assert.Equal(t, int64(1), d.Stats().Dropped)
}

func TestDispatcher_CloseTimeoutDropsBacklog(t *testing.T) {
	sink := &recordingSink{name: "a"}
	d := NewDispatcher(DispatcherConfig{QueueSize: 16, RatePerSec: 0.5, Burst: 1}, []Sink{sink}, nil, zap.NewNop())
	d.Start()
	for i := 0; i < 4; i++ {
		require.True(t, d.Publish(transition(i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sink.delivered(), 1)
	assert.Equal(t, int64(3), d.Stats().Dropped)
}

func TestDispatcher_CloseTimeoutCancelsHungSink(t *testing.T) {
	hung := &recordingSink{name: "hung", gate: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{QueueSize: 8, DeliverTimeout: time.Hour}, []Sink{hung}, nil, zap.NewNop())
	d.Start()
	for i := 0; i < 3; i++ {
		require.True(t, d.Publish(transition(i)))
	}
	require.Eventually(t, func() bool { return len(d.queue) == 2 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Empty(t, hung.delivered())
}

func TestDispatcher_CloseWithoutStart(t *testing.T) {
	sink := &recordingSink{name: "a"}
	d := NewDispatcher(DispatcherConfig{QueueSize: 4}, []Sink{sink}, nil, zap.NewNop())
	require.True(t, d.Publish(transition(0)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, d.Close(context.Background()))
		assert.NoError(t, d.Close(context.Background()))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a dispatcher that was never started")
	}

	d.Start()
	assert.Empty(t, sink.delivered())
	assert.Equal(t, int64(1), d.Stats().Dropped)
}
