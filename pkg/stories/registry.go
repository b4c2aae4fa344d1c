package stories

import (
	"sort"

	"github.com/openfroyo/inkhost/pkg/ink"
)

// Parser turns story text into a runtime story.
type Parser interface {
	Parse(text string) (*ink.Story, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(text string) (*ink.Story, error)

// Parse calls f(text).
func (f ParserFunc) Parse(text string) (*ink.Story, error) {
	return f(text)
}

// InkParser parses text with ink.Parse.
var InkParser Parser = ParserFunc(ink.Parse)

// Registry maps keys to parsed stories. A key is present only after a parse for
// it succeeded, and a failed parse never disturbs an existing entry.
//
// Registry does no locking of its own. Runtime is the single writer and
// serializes every access behind its mutex.
type Registry struct {
	parser  Parser
	stories map[Key]*ink.Story
}

// NewRegistry creates an empty registry using parser for every insert.
func NewRegistry(parser Parser) *Registry {
	if parser == nil {
		parser = InkParser
	}
	return &Registry{
		parser:  parser,
		stories: make(map[Key]*ink.Story),
	}
}

// InsertOrReplace parses text and, on success, stores the result under key and
// returns the story it replaced (nil for a first insert). On failure the
// registry is left untouched and the returned error has KindParseFailed.
func (r *Registry) InsertOrReplace(key Key, text string) (*ink.Story, error) {
	story, err := r.parser.Parse(text)
	if err != nil {
		return nil, newError(KindParseFailed, "parse", key, err)
	}

	previous := r.stories[key]
	r.stories[key] = story
	return previous, nil
}

// Get returns the story stored under key.
func (r *Registry) Get(key Key) (*ink.Story, error) {
	story, ok := r.stories[key]
	if !ok {
		return nil, newError(KindNotLoaded, "get", key, nil)
	}
	return story, nil
}

// WithStory calls fn with the story stored under key. The story must not be
// retained after fn returns.
func (r *Registry) WithStory(key Key, fn func(*ink.Story) error) error {
	story, err := r.Get(key)
	if err != nil {
		return err
	}
	return fn(story)
}

// Contains reports whether key has a story.
func (r *Registry) Contains(key Key) bool {
	_, ok := r.stories[key]
	return ok
}

// Remove deletes and returns the story under key, if any.
func (r *Registry) Remove(key Key) *ink.Story {
	story := r.stories[key]
	delete(r.stories, key)
	return story
}

// Len returns the number of stored stories.
func (r *Registry) Len() int {
	return len(r.stories)
}

// Keys returns the stored keys in ascending order.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.stories))
	for k := range r.stories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
