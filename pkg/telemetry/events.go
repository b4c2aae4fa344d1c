package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a story lifecycle audit event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// StoryKey is the story key involved, if any.
	StoryKey uint64 `json:"story_key,omitempty"`

	// Asset names the content the key was tracked with.
	Asset string `json:"asset,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeStoryLoaded      = "story.loaded"
	EventTypeStoryReloaded    = "story.reloaded"
	EventTypeStoryParseFailed = "story.parse_failed"
	EventTypeStoryDropped     = "story.dropped"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers lifecycle events to subscribers. Synchronous
// publishers deliver on the caller's goroutine; asynchronous ones buffer and
// deliver in batches from a background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishStoryLoaded publishes a first-load event.
func (ep *EventPublisher) PublishStoryLoaded(key uint64, asset string) error {
	return ep.Publish(Event{
		Type:     EventTypeStoryLoaded,
		Source:   "poller",
		StoryKey: key,
		Asset:    asset,
		Message:  fmt.Sprintf("Story %d loaded from %s", key, asset),
		Level:    EventLevelInfo,
	})
}

// PublishStoryReloaded publishes a hot-reload event.
func (ep *EventPublisher) PublishStoryReloaded(key uint64, asset string) error {
	return ep.Publish(Event{
		Type:     EventTypeStoryReloaded,
		Source:   "reloader",
		StoryKey: key,
		Asset:    asset,
		Message:  fmt.Sprintf("Story %d reloaded from %s", key, asset),
		Level:    EventLevelInfo,
	})
}

// PublishParseFailed publishes a parse failure event.
func (ep *EventPublisher) PublishParseFailed(key uint64, asset string, reason string, reload bool) error {
	source := "poller"
	if reload {
		source = "reloader"
	}
	return ep.Publish(Event{
		Type:     EventTypeStoryParseFailed,
		Source:   source,
		StoryKey: key,
		Asset:    asset,
		Message:  fmt.Sprintf("Story %d failed to parse: %s", key, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
			"reload": reload,
		},
	})
}

// PublishStoryDropped publishes an event for a pending key dropped before load.
func (ep *EventPublisher) PublishStoryDropped(key uint64) error {
	return ep.Publish(Event{
		Type:     EventTypeStoryDropped,
		Source:   "poller",
		StoryKey: key,
		Message:  fmt.Sprintf("Story %d dropped before its content arrived", key),
		Level:    EventLevelWarning,
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			// Drain what was accepted before shutdown.
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher, delivering buffered events first.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// LogEvents returns a subscriber that writes each event to logger at the
// event's level.
func LogEvents(logger *Logger) EventSubscriber {
	return func(event Event) {
		l := logger.WithStory(event.StoryKey, event.Asset).WithField("event", event.Type)
		switch event.Level {
		case EventLevelError:
			l.Error(event.Message)
		case EventLevelWarning:
			l.Warn(event.Message)
		default:
			l.Info(event.Message)
		}
	}
}
