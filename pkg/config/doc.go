// Package config loads inkhost configuration.
//
// A configuration is built in three layers. Default supplies every value, a
// YAML or CUE file overrides what it sets, and INKHOST_* environment variables
// override the file. The result is validated with struct tags before use.
//
// CUE files are unified with a closed #Config schema, so misspelled fields and
// malformed durations are reported with their CUE position:
//
//	stories: {
//	    root: "stories"
//	    paths: ["intro.ink", "tavern.ink"]
//	}
//	runtime: tick_interval: "50ms"
//	journal: {
//	    enabled: true
//	    path:    "inkhost.db"
//	}
//
// The same file in YAML:
//
//	stories:
//	  root: stories
//	  paths: [intro.ink, tavern.ink]
//	runtime:
//	  tick_interval: 50ms
//	journal:
//	  enabled: true
//	  path: inkhost.db
//
// Environment overrides follow the section names, for example
// INKHOST_RUNTIME_TICK_INTERVAL=1s or INKHOST_STORIES_PATHS=a.ink,b.ink.
package config
