package filekv

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/fieldsync/internal/value"
)

// startWatch watches the parent directory rather than the file itself, since
// atomic replacement swaps the inode out from under a file watch.
func (s *Store) startWatch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.fsw = fsw

	s.wg.Add(2)
	go s.processEvents()
	go s.debounceLoop()
	return nil
}

func (s *Store) processEvents() {
	defer s.wg.Done()

	target := filepath.Clean(s.path)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			select {
			case s.events <- struct{}{}:
			default:
			}
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watch error", slog.String("path", s.path), slog.String("error", err.Error()))
		}
	}
}

func (s *Store) debounceLoop() {
	defer s.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.events:
			if timer == nil {
				timer = time.NewTimer(s.debounce)
				timerC = timer.C
			} else {
				timer.Reset(s.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			s.reload()
		}
	}
}

// reload re-reads the file and fires watches for every key that differs
// from the in-memory copy. The read happens under the store lock so it cannot
// interleave with a write made through this Store.
func (s *Store) reload() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fresh, err := readFile(s.path)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("reload failed", slog.String("path", s.path), slog.String("error", err.Error()))
		return
	}
	changed := diffKeys(s.data, fresh)
	s.data = fresh
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	s.logger.Debug("file store reloaded", slog.String("path", s.path), slog.Int("changed", len(changed)))
	s.watchers.Notify(changed, "")
}

func diffKeys(old, fresh map[string]value.Value) []string {
	var changed []string
	for k, v := range fresh {
		if prev, ok := old[k]; !ok || !value.Equal(prev, v) {
			changed = append(changed, k)
		}
	}
	for k := range old {
		if _, ok := fresh[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
