package refresh

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/cache"
)

// Op is the kind of change seen on a note.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to one note.
type FileEvent struct {
	Path string
	Op   Op
}

// Triggerer starts a check-for-refresh cycle.
type Triggerer interface {
	Trigger(reason string) bool
}

// Watcher follows a journal folder tree and keeps the cache in step with
// edits made outside the session. Every note change also triggers a refresh
// check.
type Watcher struct {
	watcher *fsnotify.Watcher
	cache   *cache.Cache
	trigger Triggerer
	log     *zap.Logger

	events chan FileEvent
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	folder  string
}

// NewWatcher creates a Watcher. trigger may be nil.
// The watcher must be started with Start before it reacts to changes.
func NewWatcher(c *cache.Cache, trigger Triggerer, logger *zap.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		watcher: watcher,
		cache:   c,
		trigger: trigger,
		log:     logger.Named("watcher"),
		events:  make(chan FileEvent, 100),
		done:    make(chan struct{}),
	}, nil
}

// Start watches folder and every directory below it.
func (w *Watcher) Start(folder string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", folder, err)
	}
	if err := w.addTree(abs); err != nil {
		return err
	}

	w.folder = abs
	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	w.log.Info("watching", zap.String("folder", abs))
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("failed to watch %s: %w", root, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return fs.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Stop stops watching. It blocks until the event loop has exited.
func (w *Watcher) Stop() error {
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
	close(w.events)
	return nil
}

// Events emits every note change after the cache was updated. Events are
// dropped when nobody reads them. The channel is closed by Stop.
func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.log.Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}

	fe, ok := convertEvent(event)
	if !ok {
		return
	}
	w.apply(fe)

	select {
	case w.events <- fe:
	default:
	}
}

// apply brings the cache in line with fe and asks for a refresh check.
func (w *Watcher) apply(fe FileEvent) {
	content := cache.ContentKey{Path: fe.Path}
	metadata := cache.MetadataForFolder(w.folder)

	switch fe.Op {
	case OpDelete:
		w.cache.Remove(content)
		w.cache.Invalidate(metadata)
	default:
		w.cache.Invalidate(cache.Any(cache.Exact(content), metadata))
	}

	w.log.Debug("note changed", zap.String("path", fe.Path), zap.Stringer("op", fe.Op))
	if w.trigger != nil {
		w.trigger.Trigger("file " + fe.Op.String())
	}
}

// convertEvent maps an fsnotify event on a note to a FileEvent. Other files
// and chmod events are ignored.
func convertEvent(event fsnotify.Event) (FileEvent, bool) {
	if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return FileEvent{}, false
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// The new name arrives as a create.
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: event.Name, Op: op}, true
}

// IsRunning reports whether the watcher is started.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
