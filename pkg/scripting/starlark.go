package scripting

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/inkhost/pkg/stories"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StoryRef is the Starlark value for a tracked story.
type StoryRef struct {
	key  stories.Key
	caps stories.Capabilities
}

var (
	_ starlark.Value    = (*StoryRef)(nil)
	_ starlark.HasAttrs = (*StoryRef)(nil)
)

func (r *StoryRef) String() string { return fmt.Sprintf("<ink_story %d>", uint64(r.key)) }
func (r *StoryRef) Type() string { return "ink_story" }
func (r *StoryRef) Freeze() {}
func (r *StoryRef) Truth() starlark.Bool { return starlark.True }
func (r *StoryRef) Hash() (uint32, error) { return uint32(r.key), nil }

// Key returns the story key.
func (r *StoryRef) Key() stories.Key {
	return r.key
}

var storyRefMethods = map[string]*starlark.Builtin{
	"is_loaded":           starlark.NewBuiltin("is_loaded", storyIsLoaded),
	"can_continue":        starlark.NewBuiltin("can_continue", storyCanContinue),
	"get_current_choices": starlark.NewBuiltin("get_current_choices", storyCurrentChoices),
	"choose_choice_index": starlark.NewBuiltin("choose_choice_index", storyChoose),
	"cont":                starlark.NewBuiltin("cont", storyCont),
}

// Attr implements starlark.HasAttrs.
func (r *StoryRef) Attr(name string) (starlark.Value, error) {
	if name == "key" {
		return starlark.MakeUint64(uint64(r.key)), nil
	}
	if b, ok := storyRefMethods[name]; ok {
		return b.BindReceiver(r), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (r *StoryRef) AttrNames() []string {
	return []string{"can_continue", "choose_choice_index", "cont", "get_current_choices", "is_loaded", "key"}
}

func storyIsLoaded(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	r := b.Receiver().(*StoryRef)
	return starlark.Bool(r.caps.IsReady(r.key)), nil
}

func storyCanContinue(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	r := b.Receiver().(*StoryRef)
	ok, err := r.caps.CanContinue(r.key)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(ok), nil
}

func storyCurrentChoices(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	r := b.Receiver().(*StoryRef)
	choices, err := r.caps.CurrentChoices(r.key)
	if err != nil {
		return nil, err
	}
	elems := make([]starlark.Value, len(choices))
	for i, c := range choices {
		elems[i] = starlark.String(c)
	}
	return starlark.NewList(elems), nil
}

func storyChoose(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var index int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &index); err != nil {
		return nil, err
	}
	r := b.Receiver().(*StoryRef)
	if err := r.caps.Choose(r.key, index); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func storyCont(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	r := b.Receiver().(*StoryRef)
	line, err := r.caps.Advance(r.key)
	if err != nil {
		return nil, err
	}
	return starlark.String(line), nil
}

// StarlarkEngine runs a Starlark story script.
type StarlarkEngine struct {
	host   Host
	logger zerolog.Logger

	mu      sync.Mutex
	thread  *starlark.Thread
	globals starlark.StringDict
	refs    map[stories.Key]*StoryRef
}

var _ Engine = (*StarlarkEngine)(nil)

// NewStarlarkEngine creates an engine bound to host.
func NewStarlarkEngine(host Host) *StarlarkEngine {
	return &StarlarkEngine{
		host:   host,
		logger: host.Logger.With().Str("component", "starlark").Logger(),
		refs:   make(map[stories.Key]*StoryRef),
	}
}

func (e *StarlarkEngine) Name() string { return "starlark" }

// Exec runs the script's top level. The script is cancelled when ctx is done.
func (e *StarlarkEngine) Exec(ctx context.Context, filename string, src []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.thread = &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Info().Str("script", filename).Msg(msg)
		},
	}

	stop := e.watch(ctx)
	defer stop()

	predeclared := starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"ink_load": starlark.NewBuiltin("ink_load", e.inkLoad),
	}

	globals, err := starlark.ExecFile(e.thread, filename, src, predeclared)
	if err != nil {
		return fmt.Errorf("starlark execution failed: %w", err)
	}
	e.globals = globals
	return nil
}

// watch cancels the current thread when ctx is done, until stop is called.
func (e *StarlarkEngine) watch(ctx context.Context) (stop func()) {
	thread := e.thread
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (e *StarlarkEngine) inkLoad(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}
	if e.host.Loader == nil {
		return nil, fmt.Errorf("%s: no story loader configured", b.Name())
	}

	h := e.host.Loader.Load(path)
	key := e.host.Stories.BeginTracking(h)
	ref := &StoryRef{key: key, caps: e.host.Stories}
	e.refs[key] = ref

	e.logger.Debug().Str("path", path).Stringer("key", key).Msg("Script loaded story")
	return ref, nil
}

// Keys returns the story keys the script loaded.
func (e *StarlarkEngine) Keys() []stories.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.refs)
}

// OnEvent calls on_story_load or on_story_reload with the story. Callbacks
// run for every story in the runtime, not only those the script loaded.
func (e *StarlarkEngine) OnEvent(ev stories.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.globals == nil {
		return nil
	}

	name := callbackFor(ev.Kind)
	fn, ok := e.globals[name].(starlark.Callable)
	if !ok {
		return nil
	}

	ref, ok := e.refs[ev.Key]
	if !ok {
		ref = &StoryRef{key: ev.Key, caps: e.host.Stories}
	}

	if _, err := starlark.Call(e.thread, fn, starlark.Tuple{ref}, nil); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (e *StarlarkEngine) Close() {}
