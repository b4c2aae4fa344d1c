package stories

import (
	"sort"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/rs/zerolog"
)

// Reloader re-parses loaded stories when their content changes. Notifications
// drained in one tick are coalesced per handle, so a file saved several times
// between ticks is parsed once using its latest text.
type Reloader struct {
	logger zerolog.Logger
}

// NewReloader creates a reloader.
func NewReloader(logger zerolog.Logger) *Reloader {
	return &Reloader{
		logger: logger.With().Str("component", "reloader").Logger(),
	}
}

func (r *Reloader) reload(tracker *Tracker, registry *Registry, poller *Poller, source ContentSource, observer Observer, res *tickResult) {
	changes := source.Drain()
	if len(changes) == 0 {
		return
	}

	modified := make(map[assets.Handle]bool)
	for _, c := range changes {
		switch c.Kind {
		case assets.ChangeModified:
			modified[c.Handle] = true
		case assets.ChangeRemoved:
			// Keep the last good story; removal policy belongs to the host.
			r.logger.Info().Stringer("asset", c.Handle).Msg("Story content removed, keeping last parsed version")
		}
	}

	handles := make([]assets.Handle, 0, len(modified))
	for h := range modified {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID() < handles[j].ID() })

	for _, h := range handles {
		keys := tracker.KeysFor(h)
		if len(keys) == 0 {
			continue
		}

		text, ok := source.Text(h)
		if !ok {
			continue
		}

		for _, key := range keys {
			if poller.IsPending(key) {
				continue
			}
			if parsed, ok := res.attempted[key]; ok && parsed == text {
				continue
			}

			r.logger.Info().Stringer("key", key).Stringer("asset", h).Msg("Reloading story")

			previous, err := registry.InsertOrReplace(key, text)
			if err != nil {
				r.logger.Error().Err(err).Stringer("key", key).Stringer("asset", h).Msg("Error parsing story reload")
				observer.ParseFailed(key, h, err, true)
				res.stats.Failed++
				continue
			}

			tracker.SetState(key, StateReady)
			if previous == nil {
				// A key whose first parse failed recovers here.
				res.events = append(res.events, Event{Kind: EventLoaded, Key: key})
				observer.StoryLoaded(key, h)
				res.stats.Loaded++
				continue
			}

			res.events = append(res.events, Event{Kind: EventReloaded, Key: key})
			observer.StoryReloaded(key, h)
			res.stats.Reloaded++
		}
	}
}
