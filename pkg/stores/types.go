package stores

import (
	"context"
	"time"
)

// Outcome is the result recorded for one lifecycle step of a story.
type Outcome string

const (
	OutcomeLoaded       Outcome = "loaded"
	OutcomeReloaded     Outcome = "reloaded"
	OutcomeParseFailed  Outcome = "parse_failed"
	OutcomeReloadFailed Outcome = "reload_failed"
	OutcomeDropped      Outcome = "dropped"
)

// IsFailure reports whether the outcome records a parse failure.
func (o Outcome) IsFailure() bool {
	return o == OutcomeParseFailed || o == OutcomeReloadFailed
}

// Session is one run of a story host.
type Session struct {
	ID        string     `json:"id"`
	Host      string     `json:"host"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Entry is one journal row.
type Entry struct {
	ID         int64     `json:"id"`
	SessionID  *string   `json:"session_id,omitempty"`
	StoryKey   uint64    `json:"story_key"`
	Path       string    `json:"path"`
	Outcome    Outcome   `json:"outcome"`
	Error      *string   `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PathSummary aggregates the journal for one story path.
type PathSummary struct {
	Path        string    `json:"path"`
	Loads       int       `json:"loads"`
	Reloads     int       `json:"reloads"`
	Failures    int       `json:"failures"`
	LastOutcome Outcome   `json:"last_outcome"`
	LastAt      time.Time `json:"last_at"`
}

// Journal is the persistence interface for story lifecycle history.
type Journal interface {
	StartSession(ctx context.Context, host string) (*Session, error)
	EndSession(ctx context.Context, id string) error

	Record(ctx context.Context, entry *Entry) error
	History(ctx context.Context, path string, limit int) ([]*Entry, error)
	Recent(ctx context.Context, limit int) ([]*Entry, error)
	Summary(ctx context.Context) ([]*PathSummary, error)
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
