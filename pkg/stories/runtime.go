package stories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/ink"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/openfroyo/inkhost/pkg/stories"

// Options configures a Runtime.
type Options struct {
	// Source provides story text. Required.
	Source ContentSource

	// Parser turns text into stories. Defaults to InkParser.
	Parser Parser

	// Observer receives lifecycle outcomes. Defaults to NopObserver.
	Observer Observer

	// Tracer records tick spans. Defaults to the global otel tracer.
	Tracer trace.Tracer

	Logger zerolog.Logger
}

// Runtime owns the story registry and the drivers that keep it synchronized
// with content. It is the single writer: Tick and every consumer operation
// take the same mutex, so a consumer never observes a half-replaced story.
type Runtime struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	tracer   trace.Tracer
	source   ContentSource
	observer Observer
	tracker  *Tracker
	registry *Registry
	poller   *Poller
	reloader *Reloader
	queue    []Event

	lmu       sync.RWMutex
	listeners []Listener
}

var _ Capabilities = (*Runtime)(nil)

// New creates a runtime reading content from opts.Source.
func New(opts Options) (*Runtime, error) {
	if opts.Source == nil {
		return nil, errors.New("stories: content source is required")
	}

	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	logger := opts.Logger.With().Str("component", "stories").Logger()

	return &Runtime{
		logger:   logger,
		tracer:   tracer,
		source:   opts.Source,
		observer: observer,
		tracker:  NewTracker(),
		registry: NewRegistry(opts.Parser),
		poller:   NewPoller(logger),
		reloader: NewReloader(logger),
	}, nil
}

// BeginTracking starts tracking the content behind h and returns its key. The
// story becomes usable once a tick finds the content and parses it.
func (r *Runtime) BeginTracking(h assets.Handle) Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.tracker.Begin(h)
	r.logger.Debug().Stringer("key", key).Stringer("asset", h).Msg("Tracking story")
	return key
}

// StopTracking forgets key along with its story. A key still pending is
// dropped by the next tick.
func (r *Runtime) StopTracking(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.tracker.Stop(key) {
		return false
	}
	r.registry.Remove(key)
	r.logger.Debug().Stringer("key", key).Msg("Stopped tracking story")
	return true
}

// Handle returns the content handle key was tracked with.
func (r *Runtime) Handle(key Key) (assets.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Resolve(key)
}

// State returns the lifecycle state of key.
func (r *Runtime) State(key Key) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.State(key)
}

// IsReady reports whether key has a parsed story.
func (r *Runtime) IsReady(key Key) bool {
	return r.State(key) == StateReady
}

// Keys returns every tracked key, ascending.
func (r *Runtime) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Keys()
}

// Subscribe registers l to receive events delivered by Dispatch.
func (r *Runtime) Subscribe(l Listener) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Tick runs the load-and-poll driver and then the hot-reload driver. The
// events produced are returned and queued for Dispatch.
func (r *Runtime) Tick(ctx context.Context) []Event {
	ctx, span := r.tracer.Start(ctx, "stories.tick")
	defer span.End()

	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	res := newTickResult()
	r.traceDriver(ctx, "stories.poll", res, func() {
		r.poller.poll(r.tracker, r.registry, r.source, r.observer, res)
	})
	r.traceDriver(ctx, "stories.reload", res, func() {
		r.reloader.reload(r.tracker, r.registry, r.poller, r.source, r.observer, res)
	})

	res.stats.Tracked = r.tracker.Len()
	res.stats.Pending = r.poller.Len()
	res.stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("stories.tracked", res.stats.Tracked),
		attribute.Int("stories.pending", res.stats.Pending),
		attribute.Int("stories.loaded", res.stats.Loaded),
		attribute.Int("stories.reloaded", res.stats.Reloaded),
		attribute.Int("stories.failed", res.stats.Failed),
	)
	r.observer.TickCompleted(res.stats)

	r.queue = append(r.queue, res.events...)
	return res.events
}

// traceDriver runs one driver inside a child span of the tick, recording the
// events it produced.
func (r *Runtime) traceDriver(ctx context.Context, name string, res *tickResult, run func()) {
	_, span := r.tracer.Start(ctx, name)
	defer span.End()

	before := len(res.events)
	failed := res.stats.Failed
	run()
	span.SetAttributes(
		attribute.Int("stories.events", len(res.events)-before),
		attribute.Int("stories.failed", res.stats.Failed-failed),
	)
}

// Dispatch delivers queued events to listeners, outside the runtime lock, and
// returns how many were delivered. Listeners may call back into the runtime.
func (r *Runtime) Dispatch() int {
	r.mu.Lock()
	events := r.queue
	r.queue = nil
	r.mu.Unlock()

	if len(events) == 0 {
		return 0
	}

	r.lmu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.lmu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
	return len(events)
}

// Run ticks and dispatches every interval until ctx is done.
func (r *Runtime) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("stories: tick interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Msg("Story runtime started")
	for {
		r.Tick(ctx)
		r.Dispatch()

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Story runtime stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// CanContinue reports whether the story for key has more content to produce.
func (r *Runtime) CanContinue(key Key) (bool, error) {
	var ok bool
	err := r.withStory("can_continue", key, func(s *ink.Story) error {
		ok = s.CanContinue()
		return nil
	})
	return ok, err
}

// CurrentChoices returns the display text of the choices on offer.
func (r *Runtime) CurrentChoices(key Key) ([]string, error) {
	var texts []string
	err := r.withStory("current_choices", key, func(s *ink.Story) error {
		for _, c := range s.CurrentChoices() {
			texts = append(texts, c.Text)
		}
		return nil
	})
	return texts, err
}

// Choose selects the choice at the zero-based index.
func (r *Runtime) Choose(key Key, index int) error {
	return r.withStory("choose", key, func(s *ink.Story) error {
		return s.ChooseChoiceIndex(index)
	})
}

// Advance produces the next line of the story.
func (r *Runtime) Advance(key Key) (string, error) {
	var line string
	err := r.withStory("advance", key, func(s *ink.Story) error {
		var err error
		line, err = s.Continue()
		return err
	})
	return line, err
}

// TryChoose is Choose, but fails with KindAccessConflict instead of waiting
// when a tick holds the runtime.
func (r *Runtime) TryChoose(key Key, index int) error {
	if !r.mu.TryLock() {
		return newError(KindAccessConflict, "choose", key, nil)
	}
	defer r.mu.Unlock()

	return r.withStoryLocked("choose", key, func(s *ink.Story) error {
		return s.ChooseChoiceIndex(index)
	})
}

// TryAdvance is Advance, but fails with KindAccessConflict instead of waiting
// when a tick holds the runtime.
func (r *Runtime) TryAdvance(key Key) (string, error) {
	if !r.mu.TryLock() {
		return "", newError(KindAccessConflict, "advance", key, nil)
	}
	defer r.mu.Unlock()

	var line string
	err := r.withStoryLocked("advance", key, func(s *ink.Story) error {
		var err error
		line, err = s.Continue()
		return err
	})
	return line, err
}

// Reset rewinds the story for key to its start.
func (r *Runtime) Reset(key Key) error {
	return r.withStory("reset", key, func(s *ink.Story) error {
		return s.ResetState()
	})
}

func (r *Runtime) withStory(op string, key Key, fn func(*ink.Story) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.withStoryLocked(op, key, fn)
}

func (r *Runtime) withStoryLocked(op string, key Key, fn func(*ink.Story) error) error {
	if r.tracker.State(key) == StateUnknown {
		return newError(KindKeyUnknown, op, key, nil)
	}

	err := r.registry.WithStory(key, fn)
	if err == nil {
		return nil
	}

	var serr *Error
	if errors.As(err, &serr) {
		return newError(serr.Kind, op, key, serr.Err)
	}
	return newError(KindStoryFailed, op, key, err)
}
