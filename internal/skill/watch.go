package skill

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads the store whenever its backing file changes on disk. Events
// are debounced so editors writing temp-then-rename trigger one reload. The
// returned stop function releases the watch.
func (s *Store) Watch() (func(), error) {
	if s == nil {
		return nil, errors.New("skill store unavailable")
	}
	if s.path == "" {
		return nil, errors.New("skill store path required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: renames replace the file inode.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go s.watchLoop(watcher, done)

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	target := filepath.Clean(s.path)
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				pending = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case <-pending:
			timer = nil
			pending = nil
			if err := s.Load(); err != nil {
				s.logWarn("skill reload failed", map[string]string{
					"path":  s.path,
					"error": err.Error(),
				})
				continue
			}
			s.logInfo("skill definitions reloaded", map[string]string{
				"path": s.path,
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logWarn("skill watch error", map[string]string{
				"path":  s.path,
				"error": err.Error(),
			})
		}
	}
}

func (s *Store) logInfo(message string, fields map[string]string) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Info(message, fields)
}
