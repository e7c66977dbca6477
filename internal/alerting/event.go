package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/logger"
)

// Lifecycle event kinds.
const (
	EventCreated     = "created"
	EventResolved    = "resolved"
	EventCycleFailed = "cycle_failed"
)

// LifecycleEvent describes a change to an alert or to the scheduler.
type LifecycleEvent struct {
	Kind      string
	Alert     entities.Alert // template of the system alert for cycle_failed
	Reason    string         // resolution reason or failure summary
	RunID     string
	Timestamp time.Time
}

// EventHandler processes lifecycle events.
type EventHandler func(event *LifecycleEvent)

// eventBusBufferSize is the capacity of the async event channel. Events are
// dropped when the buffer is full.
const eventBusBufferSize = 1000

// EventBus is an async pub/sub for lifecycle events. Publish never blocks the
// evaluators: events go to a buffered channel drained by one worker goroutine,
// so slow notification or broker handlers cannot stall a run.
type EventBus struct {
	handlers []EventHandler
	mu       sync.RWMutex
	eventCh  chan *LifecycleEvent
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	log      logger.Logger
}

// NewEventBus creates a bus and starts its worker.
func NewEventBus(log logger.Logger) *EventBus {
	if log == nil {
		log = logger.Nop()
	}
	b := &EventBus{
		eventCh: make(chan *LifecycleEvent, eventBusBufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		log:     log.With(logger.Component("alerting.events")),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *EventBus) Subscribe(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event. Events published after Stop, or while the
// buffer is full, are dropped.
func (b *EventBus) Publish(event *LifecycleEvent) {
	if b == nil {
		return
	}
	select {
	case <-b.stopCh:
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	default:
		b.log.Warn("event bus full, dropping event",
			logger.String("kind", event.Kind),
			logger.Uint64("alert_id", uint64(event.Alert.ID)))
	}
}

// Stop drains queued events and waits for the worker to exit. Safe to call
// multiple times.
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *EventBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) dispatch(event *LifecycleEvent) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, event)
	}
}

// safeCall keeps a panicking handler from killing the worker.
func (b *EventBus) safeCall(handler EventHandler, event *LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				logger.String("kind", event.Kind),
				logger.String("panic", fmt.Sprint(r)))
		}
	}()
	handler(event)
}
