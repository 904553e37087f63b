package discovery

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/heyglassy/flyspace/internal/domain"
)

const defaultDebounce = 250 * time.Millisecond

// Index keeps the discovered entry points of a folder current.
type Index struct {
	dir      string
	debounce time.Duration

	mu    sync.RWMutex
	files map[string]domain.ExportDetails
	err   error
}

// NewIndex discovers dir once. Call Watch to keep it current.
func NewIndex(dir string) *Index {
	idx := &Index{dir: dir, debounce: defaultDebounce}
	idx.Refresh()
	return idx
}

// Dir returns the folder being indexed.
func (i *Index) Dir() string { return i.dir }

// Files returns the latest discovery result.
func (i *Index) Files() (map[string]domain.ExportDetails, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.err != nil {
		return nil, i.err
	}
	out := make(map[string]domain.ExportDetails, len(i.files))
	for k, v := range i.files {
		out[k] = v
	}
	return out, nil
}

// Lookup reports whether export is a runnable entry point of file.
func (i *Index) Lookup(file, export string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	details, ok := i.files[file]
	if !ok {
		return false
	}
	for _, name := range details.MatchingExports {
		if name == export {
			return true
		}
	}
	return false
}

// Refresh re-runs discovery.
func (i *Index) Refresh() {
	files, err := Discover(i.dir)
	i.mu.Lock()
	i.files, i.err = files, err
	i.mu.Unlock()
	if err != nil {
		log.Printf("WARN: Script discovery failed: %v", err)
	}
}

// Watch refreshes the index whenever a script in the folder changes, until
// ctx ends.
func (i *Index) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(i.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", i.dir, err)
	}
	log.Printf("Watching %s for script changes", i.dir)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isScript(filepath.Base(ev.Name)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(i.debounce, i.Refresh)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("WARN: Script watcher error: %v", err)
		}
	}
}
