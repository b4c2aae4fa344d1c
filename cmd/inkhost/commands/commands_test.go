package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/config"
	"github.com/openfroyo/inkhost/pkg/stores"
	"github.com/openfroyo/inkhost/pkg/stories"
	"github.com/openfroyo/inkhost/pkg/telemetry"
	"github.com/rs/zerolog"
)

const crossroads = `Hello.
* [Left] You go left.
* [Right] You go right.
- The end.
-> END
`

const withKnots = `-> start

== start ==
Once upon a time.
-> finish

== finish ==
The end.
-> END
`

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

// runCommand executes the root command with args and returns its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// startRuntime tracks text under name and ticks in the background.
func startRuntime(t *testing.T, name, text string) (*assets.Store, *stories.Runtime, stories.Key) {
	t.Helper()
	disabled := zerolog.New(nil).Level(zerolog.Disabled)

	store := assets.NewStore(assets.Options{Logger: disabled})
	t.Cleanup(func() { _ = store.Close() })

	rt, err := stories.New(stories.Options{Source: store, Logger: disabled})
	if err != nil {
		t.Fatalf("stories.New() error = %v", err)
	}
	key := rt.BeginTracking(store.Set(name, text))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(ctx, 5*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return store, rt, key
}

func TestPlaySession_Choices(t *testing.T) {
	_, rt, key := startRuntime(t, "crossroads.ink", crossroads)

	var out bytes.Buffer
	s := newPlaySession(rt, key, strings.NewReader("5\nleft\n2\n"), &out)
	s.poll = time.Millisecond
	rt.Subscribe(s.onEvent)

	if err := s.run(context.Background()); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Hello.\n",
		"1: Left\n2: Right\n",
		"Pick a number from 1 to 2.",
		"You go right.\nThe end.\n",
		"-- end --",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "You go left.") {
		t.Errorf("invalid input was taken as a choice:\n%s", got)
	}
}

func TestPlaySession_Reload(t *testing.T) {
	store, rt, key := startRuntime(t, "crossroads.ink", crossroads)

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	s := newPlaySession(rt, key, pr, out)
	s.poll = time.Millisecond
	rt.Subscribe(s.onEvent)

	errCh := make(chan error, 1)
	go func() { errCh <- s.run(context.Background()) }()

	if !waitFor(t, 2*time.Second, func() bool { return strings.Contains(out.String(), "2: Right") }) {
		t.Fatalf("choices never shown:\n%s", out.String())
	}

	store.Set("crossroads.ink", "Welcome back.\n-> END\n")
	if !waitFor(t, 2*time.Second, func() bool { return strings.Contains(out.String(), "Welcome back.") }) {
		t.Fatalf("reloaded story never shown:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "(story reloaded)") {
		t.Errorf("reload notice missing:\n%s", out.String())
	}

	_ = pw.Close()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after input closed")
	}
}

func TestPlaySession_Quit(t *testing.T) {
	_, rt, key := startRuntime(t, "crossroads.ink", crossroads)

	var out bytes.Buffer
	s := newPlaySession(rt, key, strings.NewReader("q\n2\n"), &out)
	s.poll = time.Millisecond

	if err := s.run(context.Background()); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if strings.Contains(out.String(), "You go right.") {
		t.Errorf("session continued after q:\n%s", out.String())
	}
}

func TestPlaySession_UntrackedKey(t *testing.T) {
	_, rt, _ := startRuntime(t, "crossroads.ink", crossroads)

	s := newPlaySession(rt, stories.Key(99), strings.NewReader(""), io.Discard)
	if err := s.run(context.Background()); err == nil {
		t.Error("run() on an untracked key expected error")
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.ink", withKnots)
	bad := writeFile(t, dir, "bad.ink", "Oops.\n-> nowhere\n")

	out, err := runCommand(t, "check", good)
	if err != nil {
		t.Fatalf("check good.ink error = %v", err)
	}
	if !strings.Contains(out, "ok    "+good+" (2 knots)") {
		t.Errorf("output = %q", out)
	}

	out, err = runCommand(t, "check", good, bad)
	if err == nil {
		t.Fatal("check with a broken story expected error")
	}
	if !strings.Contains(out, "FAIL  "+bad) || !strings.Contains(out, bad+":2: ") {
		t.Errorf("output = %q", out)
	}

	out, err = runCommand(t, "check", "--json", bad, filepath.Join(dir, "missing.ink"))
	if err == nil {
		t.Fatal("check --json with failures expected error")
	}
	var results []checkResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out, err)
	}
	if len(results) != 2 || results[0].OK || len(results[0].Diagnostics) == 0 || results[1].Error == "" {
		t.Errorf("results = %+v", results)
	}
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	journal, err := stores.Open(ctx, stores.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("stores.Open() error = %v", err)
	}
	msg := "ink: line 2: unknown divert target"
	for _, e := range []*stores.Entry{
		{StoryKey: 1, Path: "intro.ink", Outcome: stores.OutcomeLoaded},
		{StoryKey: 1, Path: "intro.ink", Outcome: stores.OutcomeReloadFailed, Error: &msg},
		{StoryKey: 2, Path: "tavern.ink", Outcome: stores.OutcomeLoaded},
	} {
		if err := journal.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out, err := runCommand(t, "history", "--db", dbPath)
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, "tavern.ink") || !strings.Contains(out, msg) {
		t.Errorf("history output = %q", out)
	}

	out, err = runCommand(t, "history", "--db", dbPath, "--json", "intro.ink")
	if err != nil {
		t.Fatalf("history intro.ink error = %v", err)
	}
	var entries []stores.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out, err)
	}
	if len(entries) != 2 || entries[0].Outcome != stores.OutcomeReloadFailed {
		t.Errorf("entries = %+v", entries)
	}

	out, err = runCommand(t, "history", "--db", dbPath, "--summary")
	if err != nil {
		t.Fatalf("history --summary error = %v", err)
	}
	if !strings.Contains(out, "PATH") || !strings.Contains(out, "intro.ink") {
		t.Errorf("summary output = %q", out)
	}
}

func newTestApp(t *testing.T, dir string) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Stories.Root = dir
	cfg.Watch.Enabled = false
	cfg.Telemetry.MetricsEnabled = false
	cfg.Telemetry.LogLevel = "error"

	a, err := newApp(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestApp_LogsLifecycleEvents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.ink", crossroads)
	writeFile(t, dir, "bad.ink", "Oops.\n-> nowhere\n")

	a := newTestApp(t, dir)
	var buf bytes.Buffer
	a.logEvents(telemetry.NewLoggerTo(&buf, telemetry.LoggingConfig{Level: "info", Format: "json"}), telemetry.EventLevelWarning)

	a.track("good.ink")
	bad := a.track("bad.ink")
	a.store.Wait()
	a.runtime.Tick(context.Background())

	out := buf.String()
	if !strings.Contains(out, `"event":"story.parse_failed"`) || !strings.Contains(out, fmt.Sprintf(`"story_key":%d`, uint64(bad))) {
		t.Errorf("parse failure not logged: %s", out)
	}
	if strings.Contains(out, "story.loaded") {
		t.Errorf("info event passed a warning filter: %s", out)
	}
}

func TestApp_ScriptsSeeHostStories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "intro.ink", crossroads)
	script := writeFile(t, dir, "hooks.star", `
def on_story_load(s):
    s.cont()
    s.choose_choice_index(0)
`)

	a := newTestApp(t, dir)
	key := a.track("intro.ink")
	if err := a.runScripts(context.Background(), []string{script}); err != nil {
		t.Fatalf("runScripts() error = %v", err)
	}
	if a.scripts.Len() != 1 {
		t.Fatalf("scripts registered = %d, want 1", a.scripts.Len())
	}

	a.store.Wait()
	a.runtime.Tick(context.Background())
	a.runtime.Dispatch()

	// The load callback read "Hello." and took the first choice.
	line, err := a.runtime.Advance(key)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if line != "You go left.\n" {
		t.Errorf("Advance() = %q, want the choice the script made", line)
	}
}
