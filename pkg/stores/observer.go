package stores

import (
	"context"
	"sync"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/stories"
	"github.com/rs/zerolog"
)

// JournalObserver writes runtime lifecycle outcomes to a Journal. Runtime
// observers are called while a tick holds the runtime lock, so entries are
// queued and written by a background goroutine.
type JournalObserver struct {
	stories.NopObserver

	journal  Journal
	session  *string
	describe func(assets.Handle) string
	logger   zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	entries chan *Entry
	wg      sync.WaitGroup
}

var _ stories.Observer = (*JournalObserver)(nil)

// JournalOptions configures a JournalObserver.
type JournalOptions struct {
	// SessionID tags every entry, if set.
	SessionID string

	// Describe turns a handle into the path stored in the journal.
	Describe func(assets.Handle) string

	// BufferSize bounds the write queue. Defaults to 256.
	BufferSize int

	Logger zerolog.Logger
}

// NewJournalObserver starts the writer goroutine. Close must be called to
// flush queued entries.
func NewJournalObserver(journal Journal, opts JournalOptions) *JournalObserver {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.Describe == nil {
		opts.Describe = assets.Handle.String
	}

	o := &JournalObserver{
		journal:  journal,
		describe: opts.Describe,
		logger:   opts.Logger.With().Str("component", "journal").Logger(),
		entries:  make(chan *Entry, opts.BufferSize),
	}
	if opts.SessionID != "" {
		id := opts.SessionID
		o.session = &id
	}

	o.wg.Add(1)
	go o.write()
	return o
}

func (o *JournalObserver) StoryLoaded(key stories.Key, h assets.Handle) {
	o.enqueue(key, o.describe(h), OutcomeLoaded, nil)
}

func (o *JournalObserver) StoryReloaded(key stories.Key, h assets.Handle) {
	o.enqueue(key, o.describe(h), OutcomeReloaded, nil)
}

func (o *JournalObserver) ParseFailed(key stories.Key, h assets.Handle, err error, reload bool) {
	outcome := OutcomeParseFailed
	if reload {
		outcome = OutcomeReloadFailed
	}
	o.enqueue(key, o.describe(h), outcome, err)
}

func (o *JournalObserver) PendingDropped(key stories.Key) {
	o.enqueue(key, "", OutcomeDropped, nil)
}

func (o *JournalObserver) enqueue(key stories.Key, path string, outcome Outcome, err error) {
	entry := &Entry{
		SessionID: o.session,
		StoryKey:  uint64(key),
		Path:      path,
		Outcome:   outcome,
	}
	if err != nil {
		msg := err.Error()
		entry.Error = &msg
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.logger.Debug().Stringer("key", key).Str("outcome", string(outcome)).Msg("Journal closed, entry dropped")
		return
	}

	select {
	case o.entries <- entry:
	default:
		o.logger.Warn().Stringer("key", key).Str("outcome", string(outcome)).Msg("Journal queue full, entry dropped")
	}
}

func (o *JournalObserver) write() {
	defer o.wg.Done()

	for entry := range o.entries {
		if err := o.journal.Record(context.Background(), entry); err != nil {
			o.logger.Error().Err(err).Uint64("key", entry.StoryKey).Msg("Failed to record journal entry")
		}
	}
}

// Close stops accepting entries and waits for queued ones to be written.
// Notifications received after Close are dropped.
func (o *JournalObserver) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.entries)
	}
	o.mu.Unlock()
	o.wg.Wait()
}
