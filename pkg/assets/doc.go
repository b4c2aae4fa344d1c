// Package assets provides the file-backed content source for story text.
//
// A Store hands out a Handle for every distinct path as soon as it is asked to
// load it, then reads the file in the background. Consumers poll Text until the
// content is available and call Drain once per tick to collect change
// notifications. Watch adds fsnotify-based hot reload: writes to a loaded file
// are debounced, re-read and published as ChangeModified.
//
// An optional Compiler (for example CommandCompiler wrapping an ink compiler)
// transforms file bytes before they are published, so consumers only ever see
// final text.
package assets
