// Package watch turns file system activity under a taskflow base directory
// into project, task and iteration change notifications.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/taskflow/internal/storage"
)

// Kind is what a Change refers to.
type Kind int

const (
	// KindProject is a change to project.json or the project directory.
	KindProject Kind = iota
	// KindTask is a change to a task file.
	KindTask
	// KindIteration is a change to an iteration file of a task.
	KindIteration
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindProject:
		return "project"
	case KindTask:
		return "task"
	case KindIteration:
		return "iteration"
	default:
		return "unknown"
	}
}

// Change identifies an entity whose files changed. TaskID is empty for
// project changes. A change does not say what happened; handlers reload
// the entity and treat a missing file as a deletion.
type Change struct {
	Project string
	TaskID  string
	Kind    Kind
}

// Handler receives debounced changes, one call per distinct Change.
type Handler func(Change)

// Config holds watcher settings.
type Config struct {
	BaseDir string

	// Debounce is how long a path must stay quiet before its change is
	// delivered. Bursts of writes to one file produce one Change.
	Debounce time.Duration

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 100 * time.Millisecond,
		Logger:   log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Watcher watches the base directory, every project directory and every
// tasks directory. Directories created while running are picked up.
type Watcher struct {
	base   string
	config *Config
	fsw    *fsnotify.Watcher

	mu      sync.Mutex
	pending map[Change]time.Time
	watched map[string]bool
}

// New creates a Watcher. Run must be called to start delivering changes.
func New(cfg *Config) (*Watcher, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}

	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		base:    base,
		config:  cfg,
		fsw:     fsw,
		pending: make(map[Change]time.Time),
		watched: make(map[string]bool),
	}, nil
}

// Run watches until ctx is cancelled, then closes the underlying watcher.
// handler is called from Run's goroutine.
func (w *Watcher) Run(ctx context.Context, handler Handler) error {
	defer w.fsw.Close()

	if err := w.addTree(); err != nil {
		return err
	}
	w.config.Logger.Printf("Watching %s (%d directories)", w.base, w.watchedCount())

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.config.Logger.Printf("Watcher error: %v", err)

		case <-ticker.C:
			for _, c := range w.due(time.Now()) {
				handler(c)
			}
		}
	}
}

// Watched returns the sorted list of watched directories.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirs := make([]string, 0, len(w.watched))
	for dir := range w.watched {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

func (w *Watcher) watchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// addTree watches the base directory and everything below it that can hold
// entity files.
func (w *Watcher) addTree() error {
	if err := w.add(w.base); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.base)
	if err != nil {
		return fmt.Errorf("failed to read base directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			w.addProject(filepath.Join(w.base, entry.Name()))
		}
	}
	return nil
}

func (w *Watcher) addProject(dir string) {
	if err := w.add(dir); err != nil {
		w.config.Logger.Printf("WARNING: %v", err)
		return
	}
	tasks := filepath.Join(dir, storage.TasksDirName)
	if info, err := os.Stat(tasks); err == nil && info.IsDir() {
		if err := w.add(tasks); err != nil {
			w.config.Logger.Printf("WARNING: %v", err)
		}
	}
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.watched[dir] = true
	return nil
}

func (w *Watcher) forget(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for d := range w.watched {
		if d == dir || strings.HasPrefix(d, dir+string(filepath.Separator)) {
			delete(w.watched, d)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.handleNewDir(event.Name)
		}
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.forget(event.Name)
	}

	c, ok := Classify(w.base, event.Name)
	if !ok {
		return
	}
	w.mu.Lock()
	w.pending[c] = time.Now()
	w.mu.Unlock()
}

// handleNewDir starts watching a project or tasks directory that appeared
// after Run started.
func (w *Watcher) handleNewDir(path string) {
	rel, err := filepath.Rel(w.base, path)
	if err != nil {
		return
	}
	parts := strings.Split(rel, string(filepath.Separator))
	switch {
	case len(parts) == 1 && !strings.HasPrefix(parts[0], "."):
		w.addProject(path)
	case len(parts) == 2 && parts[1] == storage.TasksDirName:
		if err := w.add(path); err != nil {
			w.config.Logger.Printf("WARNING: %v", err)
			return
		}
	default:
		return
	}
	// Files written before the watch was in place produce no events.
	w.enqueueExisting(path)
}

func (w *Watcher) enqueueExisting(root string) {
	now := time.Now()
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if c, ok := Classify(w.base, path); ok && !d.IsDir() {
			w.mu.Lock()
			w.pending[c] = now
			w.mu.Unlock()
		}
		return nil
	})
}

// due removes and returns the pending changes that have been quiet for at
// least the debounce interval, in a stable order.
func (w *Watcher) due(now time.Time) []Change {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []Change
	for c, queuedAt := range w.pending {
		if now.Sub(queuedAt) < w.config.Debounce {
			continue
		}
		ready = append(ready, c)
		delete(w.pending, c)
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		return a.Kind < b.Kind
	})
	return ready
}

// Classify maps a path under base to the Change it represents. It returns
// false for paths that hold no entity: temp files, hidden entries, and
// anything outside the project layout.
func Classify(base, path string) (Change, bool) {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return Change{}, false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	project := parts[0]
	if strings.HasPrefix(project, ".") {
		return Change{}, false
	}

	switch len(parts) {
	case 1:
		// The project directory itself.
		return Change{Project: project, Kind: KindProject}, true
	case 2:
		if parts[1] == storage.ProjectFileName {
			return Change{Project: project, Kind: KindProject}, true
		}
	case 3:
		if parts[1] != storage.TasksDirName {
			return Change{}, false
		}
		id, iter, ok := storage.ParseFilename(parts[2])
		if !ok {
			return Change{}, false
		}
		kind := KindTask
		if iter {
			kind = KindIteration
		}
		return Change{Project: project, TaskID: id, Kind: kind}, true
	}
	return Change{}, false
}
