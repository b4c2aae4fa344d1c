package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

type asset struct {
	handle Handle
	path   string
	text   string
	ready  bool
	err    error

	// requested counts reads started for this asset; applied is the sequence of
	// the newest read whose result was published. Older results are dropped.
	requested uint64
	applied   uint64
}

// Options configures a Store.
type Options struct {
	// Root resolves relative paths passed to Load. Empty means the working directory.
	Root string

	// Compiler optionally transforms file bytes before they are published.
	Compiler Compiler

	// Debounce delays reloads after a file system event. Zero means 100ms.
	Debounce time.Duration

	// Logger receives load and watch diagnostics.
	Logger zerolog.Logger
}

// Store is a file-backed content source. Loads complete asynchronously; callers
// poll Text until content is available and Drain change notifications once per
// tick. All methods are safe for concurrent use.
type Store struct {
	logger   zerolog.Logger
	root     string
	compiler Compiler
	debounce time.Duration

	mu       sync.RWMutex
	nextID   uint64
	byPath   map[string]*asset
	byHandle map[Handle]*asset
	changes  []Change

	watcher *fsnotify.Watcher
	watched map[string]bool
	timers  map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	debounce := opts.Debounce
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		logger:   opts.Logger.With().Str("component", "assets").Logger(),
		root:     opts.Root,
		compiler: opts.Compiler,
		debounce: debounce,
		byPath:   make(map[string]*asset),
		byHandle: make(map[Handle]*asset),
		watched:  make(map[string]bool),
		timers:   make(map[string]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Store) resolve(path string) string {
	if !filepath.IsAbs(path) && s.root != "" {
		path = filepath.Join(s.root, path)
	}
	return filepath.Clean(path)
}

// lookup returns the asset for path, creating it when absent.
func (s *Store) lookup(full string) (*asset, bool) {
	if a, ok := s.byPath[full]; ok {
		return a, false
	}
	s.nextID++
	a := &asset{handle: Handle{id: s.nextID}, path: full}
	s.byPath[full] = a
	s.byHandle[a.handle] = a
	return a, true
}

// Load returns the handle for path and starts reading it in the background if it
// is not already known. It never blocks on I/O.
func (s *Store) Load(path string) Handle {
	full := s.resolve(path)

	s.mu.Lock()
	a, created := s.lookup(full)
	if !created {
		s.mu.Unlock()
		return a.handle
	}
	a.requested++
	seq := a.requested
	watching := s.watcher != nil
	s.mu.Unlock()

	if watching {
		s.watchDir(filepath.Dir(full))
	}

	s.logger.Debug().Str("path", full).Str("handle", a.handle.String()).Msg("Loading asset")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.read(a.handle, full, seq)
	}()

	return a.handle
}

// Set publishes text for path directly, without touching the file system. It
// reports ChangeAdded the first time content exists for the asset and
// ChangeModified afterwards.
func (s *Store) Set(path, text string) Handle {
	full := s.resolve(path)

	s.mu.Lock()
	a, _ := s.lookup(full)
	a.requested++
	seq := a.requested
	s.mu.Unlock()

	s.publish(a.handle, seq, text)
	return a.handle
}

func (s *Store) read(h Handle, path string, seq uint64) {
	data, err := os.ReadFile(path)
	if err == nil && s.compiler != nil && s.compiler.Handles(path) {
		data, err = s.compiler.Compile(s.ctx, path, data)
	}

	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to read asset")
		s.mu.Lock()
		if a, ok := s.byHandle[h]; ok {
			a.err = err
		}
		s.mu.Unlock()
		return
	}

	s.publish(h, seq, string(data))
}

func (s *Store) publish(h Handle, seq uint64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byHandle[h]
	if !ok || seq <= a.applied {
		return
	}

	kind := ChangeModified
	if !a.ready {
		kind = ChangeAdded
	}
	a.applied = seq
	a.text = text
	a.ready = true
	a.err = nil
	s.changes = append(s.changes, Change{Kind: kind, Handle: h})
}

// Text returns the current content for h, or false while it is not available.
func (s *Store) Text(h Handle) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byHandle[h]
	if !ok || !a.ready {
		return "", false
	}
	return a.text, true
}

// Path returns the resolved file path behind h.
func (s *Store) Path(h Handle) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byHandle[h]
	if !ok {
		return "", false
	}
	return a.path, true
}

// Err returns the last read or compile error for h, if any.
func (s *Store) Err(h Handle) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.byHandle[h]; ok {
		return a.err
	}
	return nil
}

// Drain returns and clears the change notifications accumulated since the
// previous call, oldest first.
func (s *Store) Drain() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := s.changes
	s.changes = nil
	return changes
}

// Unload forgets h and reports ChangeRemoved for it.
func (s *Store) Unload(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byHandle[h]
	if !ok {
		return false
	}
	delete(s.byHandle, h)
	delete(s.byPath, a.path)
	if t := s.timers[a.path]; t != nil {
		t.Stop()
		delete(s.timers, a.path)
	}
	s.changes = append(s.changes, Change{Kind: ChangeRemoved, Handle: h})
	return true
}

// Wait blocks until every read started so far has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Watch starts watching the directories of all loaded assets, and of assets
// loaded later, for modification. It returns once the watcher is running; events
// are processed until ctx is cancelled or Close is called.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("store is already watching")
	}
	s.watcher = watcher
	dirs := make(map[string]bool)
	for path := range s.byPath {
		dirs[filepath.Dir(path)] = true
	}
	s.mu.Unlock()

	sorted := make([]string, 0, len(dirs))
	for dir := range dirs {
		sorted = append(sorted, dir)
	}
	sort.Strings(sorted)
	for _, dir := range sorted {
		s.watchDir(dir)
	}

	s.wg.Add(1)
	go s.processEvents(ctx, watcher)

	s.logger.Info().Int("dirs", len(sorted)).Msg("Started watching asset directories")
	return nil
}

func (s *Store) watchDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher == nil || s.watched[dir] {
		return
	}
	if err := s.watcher.Add(dir); err != nil {
		s.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
		return
	}
	s.watched[dir] = true
}

func (s *Store) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case <-s.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			path := filepath.Clean(event.Name)
			s.mu.RLock()
			a, tracked := s.byPath[path]
			s.mu.RUnlock()
			if !tracked {
				continue
			}

			s.logger.Debug().
				Str("file", path).
				Str("op", event.Op.String()).
				Msg("Asset file changed")

			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				s.scheduleReload(path)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				s.mu.Lock()
				s.changes = append(s.changes, Change{Kind: ChangeRemoved, Handle: a.handle})
				s.mu.Unlock()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (s *Store) scheduleReload(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.timers[path]; t != nil {
		t.Stop()
	}
	s.timers[path] = time.AfterFunc(s.debounce, func() {
		s.reload(path)
	})
}

func (s *Store) reload(path string) {
	s.mu.Lock()
	a, ok := s.byPath[path]
	if !ok || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	delete(s.timers, path)
	a.requested++
	seq := a.requested
	s.mu.Unlock()

	s.read(a.handle, path, seq)
}

// Close stops watching, cancels pending reloads and waits for in-flight reads.
func (s *Store) Close() error {
	s.cancel()

	s.mu.Lock()
	for path, t := range s.timers {
		t.Stop()
		delete(s.timers, path)
	}
	watcher := s.watcher
	s.mu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	s.wg.Wait()
	return err
}
