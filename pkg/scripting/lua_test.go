package scripting

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/openfroyo/inkhost/pkg/stories"
)

const luaHooks = `
local story = ink_load("crossroads.ink")
print("ready=" .. tostring(story:is_loaded()) .. " key=" .. story:key())
print(tostring(story))

function on_story_load(s)
  print("loaded " .. tostring(s:is_loaded()))
  local line = s:cont()
  print((line:gsub("\n$", "")))
  print(table.concat(s:get_current_choices(), ","))
  s:choose_choice_index(1)
end

function on_story_reload(s)
  print("reloaded " .. tostring(s:can_continue()))
end
`

func TestLuaEngine_Callbacks(t *testing.T) {
	f := newFixture(t)
	f.write(t, "crossroads.ink", crossroads)

	engine := f.run(t, "hooks.lua", luaHooks)
	f.assertLogged(t, "ready=false key=1")
	f.assertLogged(t, "ink_story(1)")

	keys := engine.Keys()
	if len(keys) != 1 {
		t.Fatalf("Keys() = %v, want one key", keys)
	}
	key := keys[0]

	events := f.step(t)
	if len(events) != 1 || events[0] != (stories.Event{Kind: stories.EventLoaded, Key: key}) {
		t.Fatalf("events = %v", events)
	}
	f.assertLogged(t, "loaded true")
	f.assertLogged(t, "Hello.")
	f.assertLogged(t, "Left,Right")

	line, err := f.runtime.Advance(key)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if line != "You go right.\n" {
		t.Errorf("Advance() = %q, want %q", line, "You go right.\n")
	}

	f.store.Set("crossroads.ink", crossroads)
	events = f.step(t)
	if len(events) != 1 || events[0].Kind != stories.EventReloaded {
		t.Fatalf("events after change = %v", events)
	}
	f.assertLogged(t, "reloaded true")
}

func TestLuaEngine_Errors(t *testing.T) {
	f := newFixture(t)
	f.write(t, "crossroads.ink", crossroads)

	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{name: "syntax error", src: "function (\n"},
		{name: "not loaded", src: "local s = ink_load(\"late.ink\")\ns:cont()\n", wantMsg: string(stories.KindNotLoaded)},
		{name: "ink_load without path", src: "ink_load()\n"},
		{name: "method on wrong type", src: "local s = ink_load(\"crossroads.ink\")\ns.cont({})\n"},
		{name: "choose without index", src: "local s = ink_load(\"crossroads.ink\")\ns:choose_choice_index()\n"},
		{name: "runtime error", src: "error(\"stop here\")\n", wantMsg: "stop here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewLuaEngine(f.host)
			err := engine.Exec(context.Background(), "bad.lua", []byte(tt.src))
			if err == nil {
				t.Fatalf("Exec(%q) expected error", tt.src)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLuaEngine_CallbackError(t *testing.T) {
	f := newFixture(t)
	f.write(t, "crossroads.ink", crossroads)

	engine := f.run(t, "fail.lua", `
local story = ink_load("crossroads.ink")
function on_story_load(s)
  error("callback exploded")
end
`)
	key := engine.Keys()[0]

	err := engine.OnEvent(stories.Event{Kind: stories.EventLoaded, Key: key})
	if err == nil || !strings.Contains(err.Error(), CallbackLoad) {
		t.Errorf("OnEvent() error = %v, want it to name %s", err, CallbackLoad)
	}

	// No reload callback is defined.
	if err := engine.OnEvent(stories.Event{Kind: stories.EventReloaded, Key: key}); err != nil {
		t.Errorf("OnEvent() without a reload callback = %v", err)
	}

	le := engine.(*LuaEngine)
	for i := 0; i < 3; i++ {
		_ = engine.OnEvent(stories.Event{Kind: stories.EventLoaded, Key: key})
	}
	if top := le.state.Top(); top != 0 {
		t.Errorf("stack size after failed callbacks = %d, want 0", top)
	}
}

func TestLuaEngine_ErrorsLeaveStackEmpty(t *testing.T) {
	f := newFixture(t)
	engine := NewLuaEngine(f.host)

	for _, src := range []string{"function (\n", "error(\"stop\")\n"} {
		if err := engine.Exec(context.Background(), "bad.lua", []byte(src)); err == nil {
			t.Fatalf("Exec(%q) expected error", src)
		}
	}
	if top := engine.state.Top(); top != 0 {
		t.Errorf("stack size after failed chunks = %d, want 0", top)
	}
}

func TestLuaEngine_CallbacksForHostStories(t *testing.T) {
	f := newFixture(t)
	f.write(t, "tavern.ink", crossroads)

	f.run(t, "watch.lua", `
function on_story_load(s)
  print("host load " .. s:key() .. " " .. tostring(s:is_loaded()))
end

function on_story_reload(s)
  print("host reload " .. s:key())
end
`)
	key := f.runtime.BeginTracking(f.store.Load("tavern.ink"))

	f.step(t)
	f.assertLogged(t, fmt.Sprintf("host load %d true", key))

	f.store.Set("tavern.ink", "Closed for the night.\n-> END\n")
	f.step(t)
	f.assertLogged(t, fmt.Sprintf("host reload %d", key))
}

func TestLuaEngine_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewLuaEngine(f.host)
	if err := engine.Exec(ctx, "x.lua", []byte("local x = 1\n")); err == nil {
		t.Error("Exec() with a cancelled context expected error")
	}
}
