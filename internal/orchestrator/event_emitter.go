package orchestrator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// emitTimeout is how long Emit waits on a full channel before dropping.
const emitTimeout = 100 * time.Millisecond

// EventEmitter delivers engine events to one subscriber over a buffered channel.
// A nil *EventEmitter discards everything.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	closeOnce    sync.Once
	mu           sync.RWMutex
	closed       bool
	logger       *slog.Logger
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		logger: logger,
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it waits briefly before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	timer := time.NewTimer(emitTimeout)
	defer timer.Stop()
	select {
	case e.events <- event:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn("event channel full, dropped event", "type", event.Type, "dropped", count)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	if e == nil {
		return 0
	}
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Later Emit calls are discarded.
func (e *EventEmitter) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.events)
		e.mu.Unlock()
	})
}
