package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/inkhost/pkg/assets"
	"github.com/openfroyo/inkhost/pkg/stories"
	"github.com/rs/zerolog"
)

// Callback names a script may define.
const (
	// CallbackReload is called with the story after each successful hot reload.
	CallbackReload = "on_story_reload"

	// CallbackLoad is called with the story once its first load succeeds.
	CallbackLoad = "on_story_load"
)

// Loader resolves a story path to a content handle.
type Loader interface {
	Load(path string) assets.Handle
}

// Recorder receives script execution timings. *telemetry.Metrics implements it.
type Recorder interface {
	RecordScriptRun(engine string, duration time.Duration, err error)
}

// Host is what scripts can reach: the story capabilities and a way to load
// story files.
type Host struct {
	Stories  stories.Capabilities
	Loader   Loader
	Recorder Recorder
	Logger   zerolog.Logger
}

// Engine runs one script and forwards story events to its callbacks. Engines
// serialize their own calls and are safe for concurrent use.
type Engine interface {
	// Name returns the engine name, "starlark" or "lua".
	Name() string

	// Exec runs the script's top level.
	Exec(ctx context.Context, filename string, src []byte) error

	// Keys returns the story keys the script loaded, ascending.
	Keys() []stories.Key

	// OnEvent calls the script callback matching ev, if the script defines one.
	OnEvent(ev stories.Event) error

	Close()
}

// EngineName returns the engine that runs path, chosen by extension.
func EngineName(path string) (string, bool) {
	switch filepath.Ext(path) {
	case ".star", ".starlark":
		return "starlark", true
	case ".lua":
		return "lua", true
	default:
		return "", false
	}
}

// NewEngine returns the engine for a script path.
func NewEngine(path string, host Host) (Engine, error) {
	name, _ := EngineName(path)
	switch name {
	case "starlark":
		return NewStarlarkEngine(host), nil
	case "lua":
		return NewLuaEngine(host), nil
	default:
		return nil, fmt.Errorf("unsupported script type: %s", path)
	}
}

// RunFile reads path, creates the matching engine and executes it.
func RunFile(ctx context.Context, path string, host Host) (Engine, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	engine, err := NewEngine(path, host)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = engine.Exec(ctx, path, src)
	if host.Recorder != nil {
		host.Recorder.RecordScriptRun(engine.Name(), time.Since(start), err)
	}
	if err != nil {
		engine.Close()
		return nil, err
	}

	return engine, nil
}

// Scripts fans story events out to several engines.
type Scripts struct {
	mu      sync.RWMutex
	engines []Engine
	logger  zerolog.Logger
}

// NewScripts creates an empty script set.
func NewScripts(logger zerolog.Logger) *Scripts {
	return &Scripts{logger: logger.With().Str("component", "scripts").Logger()}
}

// Add registers an engine.
func (s *Scripts) Add(e Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines = append(s.engines, e)
}

// Len returns the number of registered engines.
func (s *Scripts) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.engines)
}

// OnEvent forwards ev to every engine. Callback errors are logged; one failing
// script does not stop the others. Its signature matches stories.Listener.
func (s *Scripts) OnEvent(ev stories.Event) {
	s.mu.RLock()
	engines := make([]Engine, len(s.engines))
	copy(engines, s.engines)
	s.mu.RUnlock()

	for _, e := range engines {
		if err := e.OnEvent(ev); err != nil {
			s.logger.Error().Err(err).Str("engine", e.Name()).Stringer("key", ev.Key).Msg("Script callback failed")
		}
	}
}

// Close closes every engine.
func (s *Scripts) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.engines {
		e.Close()
	}
	s.engines = nil
}

func callbackFor(kind stories.EventKind) string {
	if kind == stories.EventReloaded {
		return CallbackReload
	}
	return CallbackLoad
}

func sortedKeys[V any](m map[stories.Key]V) []stories.Key {
	keys := make([]stories.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
