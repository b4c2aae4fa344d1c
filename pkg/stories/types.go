package stories

import (
	"fmt"
	"time"

	"github.com/openfroyo/inkhost/pkg/assets"
)

// Key names one story load slot for as long as it is tracked.
type Key uint64

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("story#%d", uint64(k))
}

// State is the lifecycle state of a tracked key.
type State string

const (
	// StateUnknown is reported for keys that are not tracked.
	StateUnknown State = "unknown"

	// StatePending means the key waits for its content to become available.
	StatePending State = "pending"

	// StateReady means the registry holds a parsed story for the key.
	StateReady State = "ready"

	// StateFailed means the first parse failed; a later content change may recover it.
	StateFailed State = "failed"
)

// EventKind distinguishes runtime notifications.
type EventKind string

const (
	// EventLoaded is emitted when a key's first parse succeeds.
	EventLoaded EventKind = "loaded"

	// EventReloaded is emitted when a content change re-parsed a key successfully.
	EventReloaded EventKind = "reloaded"
)

// Event is a runtime notification delivered to listeners after a tick.
type Event struct {
	Kind EventKind
	Key  Key
}

// Listener receives runtime events.
type Listener func(Event)

// ContentSource is the runtime's view of the asset collaborator.
type ContentSource interface {
	// Text returns the current content for h, or false while it is not available.
	Text(h assets.Handle) (string, bool)

	// Drain returns and clears change notifications accumulated since the last call.
	Drain() []assets.Change
}

// Capabilities are the operations the runtime offers to hosts and script bridges.
type Capabilities interface {
	BeginTracking(h assets.Handle) Key
	StopTracking(key Key) bool
	IsReady(key Key) bool
	CanContinue(key Key) (bool, error)
	CurrentChoices(key Key) ([]string, error)
	Choose(key Key, index int) error
	Advance(key Key) (string, error)
}

// TickStats summarizes one runtime tick.
type TickStats struct {
	Tracked  int
	Pending  int
	Loaded   int
	Reloaded int
	Failed   int
	Dropped  int
	Duration time.Duration
}

// Observer is notified of lifecycle outcomes as the drivers produce them. Calls
// happen on the ticking goroutine while the runtime is locked; implementations
// must not call back into the runtime.
type Observer interface {
	StoryLoaded(key Key, h assets.Handle)
	StoryReloaded(key Key, h assets.Handle)
	ParseFailed(key Key, h assets.Handle, err error, reload bool)
	PendingDropped(key Key)
	TickCompleted(stats TickStats)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) StoryLoaded(Key, assets.Handle) {}
func (NopObserver) StoryReloaded(Key, assets.Handle) {}
func (NopObserver) ParseFailed(Key, assets.Handle, error, bool) {}
func (NopObserver) PendingDropped(Key) {}
func (NopObserver) TickCompleted(TickStats) {}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (o Observers) StoryLoaded(key Key, h assets.Handle) {
	for _, ob := range o {
		ob.StoryLoaded(key, h)
	}
}

func (o Observers) StoryReloaded(key Key, h assets.Handle) {
	for _, ob := range o {
		ob.StoryReloaded(key, h)
	}
}

func (o Observers) ParseFailed(key Key, h assets.Handle, err error, reload bool) {
	for _, ob := range o {
		ob.ParseFailed(key, h, err, reload)
	}
}

func (o Observers) PendingDropped(key Key) {
	for _, ob := range o {
		ob.PendingDropped(key)
	}
}

func (o Observers) TickCompleted(stats TickStats) {
	for _, ob := range o {
		ob.TickCompleted(stats)
	}
}
