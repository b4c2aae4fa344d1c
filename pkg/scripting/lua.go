package scripting

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
	"github.com/openfroyo/inkhost/pkg/stories"
	"github.com/rs/zerolog"
)

const storyTypeName = "ink_story"

// luaStory is the userdata behind a Lua story value.
type luaStory struct {
	key stories.Key
}

// LuaEngine runs a Lua story script.
type LuaEngine struct {
	host   Host
	logger zerolog.Logger

	mu    sync.Mutex
	state *lua.State
	refs  map[stories.Key]*luaStory
	name  string
}

var _ Engine = (*LuaEngine)(nil)

// NewLuaEngine creates an engine bound to host with the standard libraries
// opened and the story bindings registered.
func NewLuaEngine(host Host) *LuaEngine {
	e := &LuaEngine{
		host:   host,
		logger: host.Logger.With().Str("component", "lua").Logger(),
		state:  lua.NewState(),
		refs:   make(map[stories.Key]*luaStory),
	}

	lua.OpenLibraries(e.state)
	e.registerStoryType()
	e.state.Register("ink_load", e.inkLoad)
	e.state.Register("print", e.print)

	return e
}

func (e *LuaEngine) registerStoryType() {
	state := e.state
	lua.NewMetaTable(state, storyTypeName)
	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "is_loaded", Function: e.storyIsLoaded},
		{Name: "can_continue", Function: e.storyCanContinue},
		{Name: "get_current_choices", Function: e.storyCurrentChoices},
		{Name: "choose_choice_index", Function: e.storyChoose},
		{Name: "cont", Function: e.storyCont},
		{Name: "key", Function: e.storyKey},
	}, 0)
	state.SetField(-2, "__index")
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "__tostring", Function: storyToString},
	}, 0)
	state.Pop(1)
}

func (e *LuaEngine) Name() string { return "lua" }

// Exec loads and runs the script chunk.
func (e *LuaEngine) Exec(ctx context.Context, filename string, src []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.name = filename
	if err := lua.LoadBuffer(e.state, string(src), filename, "text"); err != nil {
		e.state.Pop(1)
		return fmt.Errorf("load lua: %w", err)
	}
	if err := e.state.ProtectedCall(0, 0, 0); err != nil {
		e.state.Pop(1)
		return fmt.Errorf("run lua: %w", err)
	}
	return nil
}

// Keys returns the story keys the script loaded.
func (e *LuaEngine) Keys() []stories.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.refs)
}

// OnEvent calls on_story_load or on_story_reload with the story. Callbacks
// run for every story in the runtime, not only those the script loaded.
func (e *LuaEngine) OnEvent(ev stories.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ref, ok := e.refs[ev.Key]
	if !ok {
		ref = &luaStory{key: ev.Key}
	}

	name := callbackFor(ev.Kind)
	e.state.Global(name)
	if !e.state.IsFunction(-1) {
		e.state.Pop(1)
		return nil
	}

	e.state.PushUserData(ref)
	lua.SetMetaTableNamed(e.state, storyTypeName)
	if err := e.state.ProtectedCall(1, 0, 0); err != nil {
		e.state.Pop(1)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (e *LuaEngine) Close() {}

func (e *LuaEngine) inkLoad(state *lua.State) int {
	path := lua.CheckString(state, 1)
	if e.host.Loader == nil {
		lua.Errorf(state, "ink_load: no story loader configured")
	}

	h := e.host.Loader.Load(path)
	key := e.host.Stories.BeginTracking(h)
	ref := &luaStory{key: key}
	e.refs[key] = ref

	e.logger.Debug().Str("path", path).Stringer("key", key).Msg("Script loaded story")

	state.PushUserData(ref)
	lua.SetMetaTableNamed(state, storyTypeName)
	return 1
}

func (e *LuaEngine) print(state *lua.State) int {
	n := state.Top()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		s, _ := lua.ToStringMeta(state, i)
		state.Pop(1)
		parts = append(parts, s)
	}
	e.logger.Info().Str("script", e.name).Msg(strings.Join(parts, "\t"))
	return 0
}

func checkStory(state *lua.State) *luaStory {
	ud := lua.CheckUserData(state, 1, storyTypeName)
	if story, ok := ud.(*luaStory); ok && story != nil {
		return story
	}
	lua.ArgumentError(state, 1, "ink_story expected")
	return nil
}

func storyToString(state *lua.State) int {
	story := checkStory(state)
	state.PushString(fmt.Sprintf("ink_story(%d)", uint64(story.key)))
	return 1
}

func (e *LuaEngine) storyKey(state *lua.State) int {
	story := checkStory(state)
	state.PushInteger(int(story.key))
	return 1
}

func (e *LuaEngine) storyIsLoaded(state *lua.State) int {
	story := checkStory(state)
	state.PushBoolean(e.host.Stories.IsReady(story.key))
	return 1
}

func (e *LuaEngine) storyCanContinue(state *lua.State) int {
	story := checkStory(state)
	ok, err := e.host.Stories.CanContinue(story.key)
	if err != nil {
		lua.Errorf(state, "%s", err.Error())
	}
	state.PushBoolean(ok)
	return 1
}

// storyCurrentChoices returns a Lua array of choice texts. Lua arrays start at
// 1 but choose_choice_index takes the zero-based choice index.
func (e *LuaEngine) storyCurrentChoices(state *lua.State) int {
	story := checkStory(state)
	choices, err := e.host.Stories.CurrentChoices(story.key)
	if err != nil {
		lua.Errorf(state, "%s", err.Error())
	}
	state.CreateTable(len(choices), 0)
	for i, c := range choices {
		state.PushString(c)
		state.RawSetInt(-2, i+1)
	}
	return 1
}

func (e *LuaEngine) storyChoose(state *lua.State) int {
	story := checkStory(state)
	index := lua.CheckInteger(state, 2)
	if err := e.host.Stories.Choose(story.key, index); err != nil {
		lua.Errorf(state, "%s", err.Error())
	}
	return 0
}

func (e *LuaEngine) storyCont(state *lua.State) int {
	story := checkStory(state)
	line, err := e.host.Stories.Advance(story.key)
	if err != nil {
		lua.Errorf(state, "%s", err.Error())
	}
	state.PushString(line)
	return 1
}
