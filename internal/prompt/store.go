package prompt

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/quizmentor-ai/quizmentor/internal/logging"
)

// Store holds the active template and hot-reloads it when the backing file
// changes. With no path configured it always serves DefaultTemplate.
type Store struct {
	mu       sync.RWMutex
	template string

	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	log     zerolog.Logger
}

// NewStore creates a template store. If path is non-empty the file is read
// immediately; a missing or unreadable file falls back to the default
// template instead of failing.
func NewStore(path string) *Store {
	s := &Store{
		path:   path,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		log:    logging.Component("prompt"),
	}
	s.reload()
	return s
}

// Template returns the currently active template text.
func (s *Store) Template() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.template == "" {
		return DefaultTemplate
	}
	return s.template
}

// Watch starts watching the template file for changes. No-op when no path is
// configured or the watcher cannot be created.
func (s *Store) Watch() error {
	if s.path == "" {
		close(s.doneCh)
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		close(s.doneCh)
		return err
	}
	// Watch the directory: editors replace files via rename, which drops a
	// watch placed on the file itself.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		close(s.doneCh)
		return err
	}
	s.watcher = w
	go s.run()
	return nil
}

func (s *Store) run() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("template watcher error")
		}
	}
}

// reload reads the template file and atomically swaps the active template.
func (s *Store) reload() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("template unreadable, using default")
		s.mu.Lock()
		s.template = ""
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.template = string(data)
	s.mu.Unlock()
	s.log.Info().Str("path", s.path).Msg("prompt template loaded")
}

// Close stops the watcher.
func (s *Store) Close() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	if s.watcher != nil {
		s.watcher.Close()
		<-s.doneCh
	}
}
