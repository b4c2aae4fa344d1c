package stories

import (
	"sort"

	"github.com/rs/zerolog"
)

// tickResult accumulates what the drivers did during one tick.
type tickResult struct {
	events []Event

	// attempted maps keys whose first parse ran this tick, successful or not,
	// to the text that was parsed, so the reloader can skip notifications it
	// already covered.
	attempted map[Key]string

	stats TickStats
}

func newTickResult() *tickResult {
	return &tickResult{attempted: make(map[Key]string)}
}

// Poller drives keys from pending to loaded. Each tick it absorbs newly tracked
// keys, polls the content source for each pending key and performs the first
// parse once content is available.
type Poller struct {
	logger  zerolog.Logger
	pending map[Key]struct{}
}

// NewPoller creates a poller with an empty pending set.
func NewPoller(logger zerolog.Logger) *Poller {
	return &Poller{
		logger:  logger.With().Str("component", "poller").Logger(),
		pending: make(map[Key]struct{}),
	}
}

// Len returns the number of keys awaiting content.
func (p *Poller) Len() int {
	return len(p.pending)
}

// IsPending reports whether key still awaits its first load.
func (p *Poller) IsPending(key Key) bool {
	_, ok := p.pending[key]
	return ok
}

func (p *Poller) poll(tracker *Tracker, registry *Registry, source ContentSource, observer Observer, res *tickResult) {
	for _, key := range tracker.Added() {
		p.pending[key] = struct{}{}
	}

	if len(p.pending) == 0 {
		return
	}

	keys := make([]Key, 0, len(p.pending))
	for key := range p.pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		h, ok := tracker.Resolve(key)
		if !ok {
			// Tracking stopped before content arrived.
			delete(p.pending, key)
			p.logger.Debug().Stringer("key", key).Msg("Dropped pending story")
			observer.PendingDropped(key)
			res.stats.Dropped++
			continue
		}

		text, ok := source.Text(h)
		if !ok {
			continue
		}
		delete(p.pending, key)
		res.attempted[key] = text

		if _, err := registry.InsertOrReplace(key, text); err != nil {
			tracker.SetState(key, StateFailed)
			p.logger.Error().Err(err).Stringer("key", key).Stringer("asset", h).Msg("Error parsing story")
			observer.ParseFailed(key, h, err, false)
			res.stats.Failed++
			continue
		}

		// Ready only after the registry entry exists.
		tracker.SetState(key, StateReady)
		res.events = append(res.events, Event{Kind: EventLoaded, Key: key})
		p.logger.Debug().Stringer("key", key).Stringer("asset", h).Msg("Story loaded")
		observer.StoryLoaded(key, h)
		res.stats.Loaded++
	}
}
