package stories

import (
	"sort"

	"github.com/openfroyo/inkhost/pkg/assets"
)

// Tracker is the host-side table of load records: which content each key refers
// to and what state the key is in. Keys are allocated sequentially and never
// reused. Not safe for concurrent use; Runtime guards it.
type Tracker struct {
	next    Key
	records map[Key]assets.Handle
	states  map[Key]State
	added   []Key
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[Key]assets.Handle),
		states:  make(map[Key]State),
	}
}

// Begin allocates a key for h in the pending state.
func (t *Tracker) Begin(h assets.Handle) Key {
	t.next++
	key := t.next
	t.records[key] = h
	t.states[key] = StatePending
	t.added = append(t.added, key)
	return key
}

// Stop forgets key. It returns false when the key was not tracked.
func (t *Tracker) Stop(key Key) bool {
	if _, ok := t.records[key]; !ok {
		return false
	}
	delete(t.records, key)
	delete(t.states, key)
	return true
}

// Resolve returns the content handle recorded for key.
func (t *Tracker) Resolve(key Key) (assets.Handle, bool) {
	h, ok := t.records[key]
	return h, ok
}

// State returns the lifecycle state of key.
func (t *Tracker) State(key Key) State {
	if s, ok := t.states[key]; ok {
		return s
	}
	return StateUnknown
}

// SetState updates the state of a tracked key. Untracked keys are ignored.
func (t *Tracker) SetState(key Key, s State) {
	if _, ok := t.records[key]; ok {
		t.states[key] = s
	}
}

// Added returns the keys begun since the previous call and clears the list.
func (t *Tracker) Added() []Key {
	added := t.added
	t.added = nil
	return added
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	return len(t.records)
}

// KeysFor returns every tracked key whose record refers to h, ascending.
func (t *Tracker) KeysFor(h assets.Handle) []Key {
	var keys []Key
	for k, rh := range t.records {
		if rh == h {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Keys returns every tracked key, ascending.
func (t *Tracker) Keys() []Key {
	keys := make([]Key, 0, len(t.records))
	for k := range t.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
