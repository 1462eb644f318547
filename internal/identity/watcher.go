package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// TokenFileWatcher keeps a Session in step with a token file written by the
// host app's sign-in flow. Writing the file signs in; removing it signs out.
//
// The parent directory is watched rather than the file itself so that
// editors and atomic rename-over writes are picked up.
type TokenFileWatcher struct {
	path    string
	session *Session
	logger  zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// WatcherOption configures a TokenFileWatcher.
type WatcherOption func(*TokenFileWatcher)

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *TokenFileWatcher) {
		w.logger = logger
	}
}

// NewTokenFileWatcher creates a watcher for path. Call Start to begin.
func NewTokenFileWatcher(path string, session *Session, opts ...WatcherOption) (*TokenFileWatcher, error) {
	if path == "" {
		return nil, errors.New("token file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve token file: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &TokenFileWatcher{
		path:    abs,
		session: session,
		logger:  zerolog.Nop(),
		watcher: watcher,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start loads the current file, if any, and begins watching.
func (w *TokenFileWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token directory %s: %w", dir, err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch token directory %s: %w", dir, err)
	}

	w.load()

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching. It blocks until the event loop has exited.
func (w *TokenFileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}

func (w *TokenFileWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				w.load()
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.logger.Info().Str("path", w.path).Msg("token file removed, signing out")
				w.session.Clear()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("token watcher error")
		}
	}
}

// load applies the file contents to the session. A missing file signs out;
// an empty file or invalid token leaves the session as it was.
func (w *TokenFileWatcher) load() {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		w.session.Clear()
		return
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("read token file")
		return
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		// Truncate-then-write produces an empty write event first.
		return
	}
	claims, err := w.session.SetToken(token)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("rejecting session token")
		return
	}
	w.logger.Info().Str("identity", claims.Subject).Msg("session token loaded")
}
