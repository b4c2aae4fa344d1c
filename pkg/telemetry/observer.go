package telemetry

import (
	"errors"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/stories"
)

// StoryObserver feeds runtime lifecycle outcomes into metrics and the event
// publisher. Either may be nil.
type StoryObserver struct {
	metrics  *Metrics
	events   *EventPublisher
	describe func(assets.Handle) string
	logger   *Logger
}

var _ stories.Observer = (*StoryObserver)(nil)

// NewStoryObserver creates an observer. describe names an asset in events; when
// nil the handle's own string form is used. Events that cannot be published
// are reported to logger.
func NewStoryObserver(metrics *Metrics, events *EventPublisher, describe func(assets.Handle) string, logger *Logger) *StoryObserver {
	if describe == nil {
		describe = assets.Handle.String
	}
	if logger == nil {
		logger = nopLogger()
	}
	return &StoryObserver{metrics: metrics, events: events, describe: describe, logger: logger}
}

func (o *StoryObserver) StoryLoaded(key stories.Key, h assets.Handle) {
	if o.metrics != nil {
		o.metrics.RecordLoaded()
	}
	if o.events != nil {
		o.published(key, o.events.PublishStoryLoaded(uint64(key), o.describe(h)))
	}
}

func (o *StoryObserver) StoryReloaded(key stories.Key, h assets.Handle) {
	if o.metrics != nil {
		o.metrics.RecordReloaded()
	}
	if o.events != nil {
		o.published(key, o.events.PublishStoryReloaded(uint64(key), o.describe(h)))
	}
}

func (o *StoryObserver) ParseFailed(key stories.Key, h assets.Handle, err error, reload bool) {
	if o.metrics != nil {
		o.metrics.RecordParseFailure(reload)
	}
	if o.events != nil {
		o.published(key, o.events.PublishParseFailed(uint64(key), o.describe(h), err.Error(), reload))
	}
}

func (o *StoryObserver) PendingDropped(key stories.Key) {
	if o.metrics != nil {
		o.metrics.RecordDropped()
	}
	if o.events != nil {
		o.published(key, o.events.PublishStoryDropped(uint64(key)))
	}
}

func (o *StoryObserver) TickCompleted(stats stories.TickStats) {
	if o.metrics != nil {
		o.metrics.RecordTick(stats.Tracked, stats.Pending, stats.Duration)
	}
}

func (o *StoryObserver) published(key stories.Key, err error) {
	if err != nil {
		o.logger.WithStory(uint64(key), "").WithError(err).Warn("Failed to publish story event")
	}
}

// InstrumentedStories counts every consumer call made through it.
type InstrumentedStories struct {
	stories.Capabilities
	metrics *Metrics
}

// InstrumentStories wraps caps so consumer calls are recorded in metrics.
func InstrumentStories(caps stories.Capabilities, metrics *Metrics) *InstrumentedStories {
	return &InstrumentedStories{Capabilities: caps, metrics: metrics}
}

func (s *InstrumentedStories) CanContinue(key stories.Key) (bool, error) {
	ok, err := s.Capabilities.CanContinue(key)
	s.record("can_continue", err)
	return ok, err
}

func (s *InstrumentedStories) CurrentChoices(key stories.Key) ([]string, error) {
	choices, err := s.Capabilities.CurrentChoices(key)
	s.record("current_choices", err)
	return choices, err
}

func (s *InstrumentedStories) Choose(key stories.Key, index int) error {
	err := s.Capabilities.Choose(key, index)
	s.record("choose", err)
	return err
}

func (s *InstrumentedStories) Advance(key stories.Key) (string, error) {
	line, err := s.Capabilities.Advance(key)
	s.record("advance", err)
	return line, err
}

func (s *InstrumentedStories) record(op string, err error) {
	s.metrics.RecordConsumerCall(op, resultLabel(err))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var serr *stories.Error
	if errors.As(err, &serr) {
		return string(serr.Kind)
	}
	return "error"
}
