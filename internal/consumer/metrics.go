package consumer

import (
	"sync"
	"time"
)

// Metrics counts message handling for one consumer and is reported to the log
// periodically.
type Metrics struct {
	mu sync.RWMutex

	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesFailed    int64

	ErrorsParse    int64
	ErrorsRejected int64 // engine refused the sample (validation, unknown zone)
	ErrorsOther    int64

	TotalProcessingTime time.Duration
	LastProcessTime     time.Time
	StartTime           time.Time
}

// NewMetrics starts the clock for a new consumer.
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// GetSnapshot returns a copy safe to read without locking.
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		ErrorsParse:         m.ErrorsParse,
		ErrorsRejected:      m.ErrorsRejected,
		ErrorsOther:         m.ErrorsOther,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

func (m *Metrics) IncrementSucceeded(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementFailed records a failure of kind "parse", "rejected" or anything else.
func (m *Metrics) IncrementFailed(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch kind {
	case "parse":
		m.ErrorsParse++
	case "rejected":
		m.ErrorsRejected++
	default:
		m.ErrorsOther++
	}
}

// AverageProcessingTime is the mean time per successful message.
func (m *Metrics) AverageProcessingTime() time.Duration {
	if m.MessagesSucceeded == 0 {
		return 0
	}
	return m.TotalProcessingTime / time.Duration(m.MessagesSucceeded)
}
