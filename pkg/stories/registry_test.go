package stories

import (
	"errors"
	"fmt"
	"testing"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/ink"
)

const (
	helloStory   = "Hello.\n-> END\n"
	goodbyeStory = "Goodbye.\n-> END\n"
	thirdStory   = "Third time.\n-> END\n"
	brokenStory  = "Oops.\n-> nowhere\n"
)

func TestRegistry_InsertOrReplace(t *testing.T) {
	reg := NewRegistry(nil)

	prev, err := reg.InsertOrReplace(1, helloStory)
	if err != nil {
		t.Fatalf("InsertOrReplace() error = %v", err)
	}
	if prev != nil {
		t.Errorf("first insert returned previous story %p, want nil", prev)
	}
	first, _ := reg.Get(1)

	prev, err = reg.InsertOrReplace(1, goodbyeStory)
	if err != nil {
		t.Fatalf("InsertOrReplace() error = %v", err)
	}
	if prev != first {
		t.Errorf("replace returned %p, want the first story %p", prev, first)
	}
	second, _ := reg.Get(1)
	if second == first {
		t.Error("replace kept the old story")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestRegistry_FailedParseKeepsEntry(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.InsertOrReplace(7, helloStory); err != nil {
		t.Fatalf("InsertOrReplace() error = %v", err)
	}
	before, _ := reg.Get(7)

	_, err := reg.InsertOrReplace(7, brokenStory)
	if !IsParseFailed(err) {
		t.Fatalf("InsertOrReplace() error = %v, want parse failure", err)
	}
	var perr *ink.ParseError
	if !errors.As(err, &perr) {
		t.Errorf("error %v does not wrap *ink.ParseError", err)
	}

	after, err := reg.Get(7)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after != before {
		t.Error("failed parse replaced the stored story")
	}
}

func TestRegistry_FailedFirstParseInsertsNothing(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.InsertOrReplace(3, brokenStory); err == nil {
		t.Fatal("InsertOrReplace() expected error")
	}
	if reg.Contains(3) {
		t.Error("failed parse inserted an entry")
	}
	if _, err := reg.Get(3); !IsNotLoaded(err) {
		t.Errorf("Get() error = %v, want not loaded", err)
	}
}

func TestRegistry_WithStoryAndRemove(t *testing.T) {
	reg := NewRegistry(nil)
	for _, k := range []Key{5, 2, 9} {
		if _, err := reg.InsertOrReplace(k, helloStory); err != nil {
			t.Fatalf("InsertOrReplace(%d) error = %v", k, err)
		}
	}

	keys := reg.Keys()
	if len(keys) != 3 || keys[0] != 2 || keys[1] != 5 || keys[2] != 9 {
		t.Errorf("Keys() = %v, want [2 5 9]", keys)
	}

	var line string
	err := reg.WithStory(5, func(s *ink.Story) error {
		var err error
		line, err = s.Continue()
		return err
	})
	if err != nil {
		t.Fatalf("WithStory() error = %v", err)
	}
	if line != "Hello.\n" {
		t.Errorf("line = %q, want %q", line, "Hello.\n")
	}

	if reg.Remove(5) == nil {
		t.Error("Remove() returned nil for a stored key")
	}
	if reg.Remove(5) != nil {
		t.Error("second Remove() returned a story")
	}
	if err := reg.WithStory(5, func(*ink.Story) error { return nil }); !IsNotLoaded(err) {
		t.Errorf("WithStory() after Remove error = %v, want not loaded", err)
	}
}

func TestRegistry_CustomParser(t *testing.T) {
	calls := 0
	reg := NewRegistry(ParserFunc(func(text string) (*ink.Story, error) {
		calls++
		return ink.Parse(text)
	}))

	if _, err := reg.InsertOrReplace(1, helloStory); err != nil {
		t.Fatalf("InsertOrReplace() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("parser called %d times, want 1", calls)
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	h1 := assets.NewHandle(1)
	h2 := assets.NewHandle(2)

	k1 := tr.Begin(h1)
	k2 := tr.Begin(h2)
	k3 := tr.Begin(h1)
	if k1 == k2 || k2 == k3 || k1 == k3 {
		t.Fatalf("keys not unique: %v %v %v", k1, k2, k3)
	}

	added := tr.Added()
	if len(added) != 3 {
		t.Errorf("Added() = %v, want 3 keys", added)
	}
	if again := tr.Added(); len(again) != 0 {
		t.Errorf("second Added() = %v, want empty", again)
	}

	if got := tr.State(k1); got != StatePending {
		t.Errorf("State() = %s, want pending", got)
	}

	keys := tr.KeysFor(h1)
	if len(keys) != 2 || keys[0] != k1 || keys[1] != k3 {
		t.Errorf("KeysFor(h1) = %v, want [%v %v]", keys, k1, k3)
	}

	if !tr.Stop(k1) {
		t.Error("Stop() = false for tracked key")
	}
	if tr.Stop(k1) {
		t.Error("second Stop() = true")
	}
	if _, ok := tr.Resolve(k1); ok {
		t.Error("Resolve() succeeded after Stop")
	}
	if got := tr.State(k1); got != StateUnknown {
		t.Errorf("State() after Stop = %s, want unknown", got)
	}

	tr.SetState(k1, StateReady)
	if got := tr.State(k1); got != StateUnknown {
		t.Errorf("SetState revived a stopped key: %s", got)
	}

	k4 := tr.Begin(h2)
	if k4 <= k3 {
		t.Errorf("key %v reused or out of order after %v", k4, k3)
	}
	if tr.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tr.Len())
	}
}

func TestError_Format(t *testing.T) {
	err := newError(KindStoryFailed, "choose", 4, errors.New("bad index"))
	want := "choose: story_failed (key=story#4): bad index"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrStoryFailed) {
		t.Error("errors.Is(err, ErrStoryFailed) = false")
	}
	if errors.Is(err, ErrNotLoaded) {
		t.Error("errors.Is(err, ErrNotLoaded) = true")
	}
	if IsKeyUnknown(err) || IsAccessConflict(err) {
		t.Error("predicate matched the wrong kind")
	}
	if !IsStoryFailed(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsStoryFailed() = false for a wrapped story failure")
	}
	if IsStoryFailed(newError(KindParseFailed, "insert", 4, nil)) {
		t.Error("IsStoryFailed() = true for a parse failure")
	}
}
