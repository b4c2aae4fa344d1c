// Package stores persists the story load journal in SQLite. Every lifecycle
// outcome the runtime reports (first load, reload, parse failure, drop) becomes
// a journal row tagged with the host session that produced it, so the history
// of a story file survives restarts.
package stores
