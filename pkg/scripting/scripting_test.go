package scripting

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/stories"
	"github.com/rs/zerolog"
)

const crossroads = `Hello.
* [Left] You go left.
* [Right] You go right.
- The end.
-> END
`

// syncBuffer is a log sink safe for concurrent writers.
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

type countingRecorder struct {
	mu   sync.Mutex
	runs map[string]int
	errs int
}

func (r *countingRecorder) RecordScriptRun(engine string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string]int)
	}
	r.runs[engine]++
	if err != nil {
		r.errs++
	}
}

// fixture wires a runtime to a file-backed store rooted in a temp dir.
type fixture struct {
	dir     string
	store   *assets.Store
	runtime *stories.Runtime
	scripts *Scripts
	logs    *syncBuffer
	host    Host
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	logs := &syncBuffer{}
	logger := zerolog.New(logs)

	store := assets.NewStore(assets.Options{Root: dir, Logger: zerolog.New(nil).Level(zerolog.Disabled)})
	t.Cleanup(func() { _ = store.Close() })

	rt, err := stories.New(stories.Options{Source: store, Logger: zerolog.New(nil).Level(zerolog.Disabled)})
	if err != nil {
		t.Fatalf("stories.New() error = %v", err)
	}

	scripts := NewScripts(logger)
	t.Cleanup(scripts.Close)
	rt.Subscribe(scripts.OnEvent)

	return &fixture{
		dir:     dir,
		store:   store,
		runtime: rt,
		scripts: scripts,
		logs:    logs,
		host:    Host{Stories: rt, Loader: store, Logger: logger},
	}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

// run executes a script file and registers its engine.
func (f *fixture) run(t *testing.T, name, src string) Engine {
	t.Helper()
	engine, err := RunFile(context.Background(), f.write(t, name, src), f.host)
	if err != nil {
		t.Fatalf("RunFile(%s) error = %v", name, err)
	}
	f.scripts.Add(engine)
	return engine
}

// step waits for pending reads, ticks once and delivers the events.
func (f *fixture) step(t *testing.T) []stories.Event {
	t.Helper()
	f.store.Wait()
	events := f.runtime.Tick(context.Background())
	f.runtime.Dispatch()
	return events
}

func (f *fixture) assertLogged(t *testing.T, msg string) {
	t.Helper()
	if !strings.Contains(f.logs.String(), `"message":"`+msg+`"`) {
		t.Errorf("log does not contain %q:\n%s", msg, f.logs.String())
	}
}

func TestNewEngine(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "hooks.star", want: "starlark"},
		{path: "hooks.starlark", want: "starlark"},
		{path: "hooks.lua", want: "lua"},
		{path: "hooks.py", wantErr: true},
		{path: "hooks", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			engine, err := NewEngine(tt.path, Host{Logger: zerolog.New(nil)})
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewEngine(%q) expected error", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEngine(%q) error = %v", tt.path, err)
			}
			defer engine.Close()
			if engine.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", engine.Name(), tt.want)
			}
		})
	}
}

func TestRunFile_Errors(t *testing.T) {
	f := newFixture(t)
	rec := &countingRecorder{}
	f.host.Recorder = rec

	if _, err := RunFile(context.Background(), filepath.Join(f.dir, "missing.star"), f.host); err == nil {
		t.Error("RunFile() on a missing file expected error")
	}

	path := f.write(t, "broken.star", "def broken(:\n")
	if _, err := RunFile(context.Background(), path, f.host); err == nil {
		t.Error("RunFile() on a syntax error expected error")
	}

	path = f.write(t, "ok.lua", "local x = 1\n")
	if _, err := RunFile(context.Background(), path, f.host); err != nil {
		t.Fatalf("RunFile() error = %v", err)
	}

	if rec.runs["starlark"] != 1 || rec.runs["lua"] != 1 || rec.errs != 1 {
		t.Errorf("recorded runs = %v, errors = %d", rec.runs, rec.errs)
	}
}

type failingEngine struct {
	calls int
}

func (e *failingEngine) Name() string { return "failing" }
func (e *failingEngine) Exec(context.Context, string, []byte) error { return nil }
func (e *failingEngine) Keys() []stories.Key { return nil }
func (e *failingEngine) Close() {}

func (e *failingEngine) OnEvent(stories.Event) error {
	e.calls++
	return errors.New("boom")
}

func TestScripts_ContinuesAfterCallbackError(t *testing.T) {
	scripts := NewScripts(zerolog.New(nil).Level(zerolog.Disabled))
	first, second := &failingEngine{}, &failingEngine{}
	scripts.Add(first)
	scripts.Add(second)

	if scripts.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", scripts.Len())
	}

	scripts.OnEvent(stories.Event{Kind: stories.EventLoaded, Key: 1})
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d, %d, want 1, 1", first.calls, second.calls)
	}

	scripts.Close()
	if scripts.Len() != 0 {
		t.Errorf("Len() after Close = %d", scripts.Len())
	}
}
