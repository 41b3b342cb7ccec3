// Package notify fans controller events out to logs, metrics, the cache and
// the media catalog without blocking the controllers that emit them.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/metrics"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// DefaultBuffer is the number of events held while sinks catch up
const DefaultBuffer = 256

// DefaultHistory is the number of recent events kept for Recent
const DefaultHistory = 100

// Sink consumes events on the hub's delivery goroutine
type Sink interface {
	Handle(ctx context.Context, ev models.Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, ev models.Event) error

// Handle calls f(ctx, ev)
func (f SinkFunc) Handle(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

// Hub implements session.Notifier. Notify never blocks: when the buffer is
// full the event is dropped and counted.
type Hub struct {
	logger  *logging.Logger
	sinks   []Sink
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	events  chan models.Event
	history []models.Event
	limit   int
	done    chan struct{}
}

// NewHub creates a hub delivering to sinks in order
func NewHub(logger *logging.Logger, sinks ...Sink) *Hub {
	h := &Hub{
		logger:  logger.WithComponent("notify"),
		sinks:   sinks,
		timeout: 5 * time.Second,
		events:  make(chan models.Event, DefaultBuffer),
		limit:   DefaultHistory,
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Notify queues ev for delivery
func (h *Hub) Notify(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.history = append(h.history, ev)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}

	select {
	case h.events <- ev:
	default:
		metrics.RecordError("notify", "dropped")
		h.logger.WithField("kind", string(ev.Kind)).Warn("Event buffer full, dropping event")
	}
}

// Recent returns up to n of the latest events, oldest first
func (h *Hub) Recent(n int) []models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.history) {
		n = len(h.history)
	}
	out := make([]models.Event, n)
	copy(out, h.history[len(h.history)-n:])
	return out
}

// Close stops accepting events and waits for queued ones to be delivered
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.closed = true
	close(h.events)
	h.mu.Unlock()
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	for ev := range h.events {
		for _, s := range h.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			if err := s.Handle(ctx, ev); err != nil {
				metrics.RecordError("notify", "sink")
				h.logger.WithError(err).WithField("kind", string(ev.Kind)).Warn("Event sink failed")
			}
			cancel()
		}
	}
}
