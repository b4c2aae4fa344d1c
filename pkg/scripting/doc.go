// Package scripting runs Starlark and Lua scripts against the story runtime.
//
// A script loads stories with ink_load and drives them through a story value.
// Both languages expose the same methods:
//
//	is_loaded()              true once the story has parsed
//	can_continue()           true while there is text to read
//	cont()                   the next line, with its trailing newline
//	get_current_choices()    list of choice texts
//	choose_choice_index(i)   pick a choice, zero-based
//	key                      the runtime key (a method in Lua)
//
// A script may define on_story_load(story) and on_story_reload(story). They
// are called from Scripts.OnEvent, which is registered as a runtime listener,
// for every story the runtime loads or reloads, including stories tracked by
// the host or by other scripts.
//
// Starlark:
//
//	intro = ink_load("intro.ink")
//
//	def on_story_reload(story):
//	    print("reloaded", story.key)
//
// Lua:
//
//	local intro = ink_load("intro.ink")
//
//	function on_story_reload(story)
//	  print("reloaded", story:key())
//	end
//
// Starlark execution stops when the Exec context is cancelled. The Lua VM
// cannot be interrupted, so Lua Exec only checks the context before it starts.
package scripting
