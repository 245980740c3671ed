package refresh

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stream-journal/stream/internal/cache"
)

type recordingTrigger struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingTrigger) Trigger(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return true
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func TestConvertEvent(t *testing.T) {
	tests := []struct {
		name   string
		event  fsnotify.Event
		wantOp Op
		wantOK bool
	}{
		{"create", fsnotify.Event{Name: "/j/2024-01-05.md", Op: fsnotify.Create}, OpCreate, true},
		{"write", fsnotify.Event{Name: "/j/2024-01-05.md", Op: fsnotify.Write}, OpModify, true},
		{"remove", fsnotify.Event{Name: "/j/2024-01-05.md", Op: fsnotify.Remove}, OpDelete, true},
		{"rename", fsnotify.Event{Name: "/j/2024-01-05.md", Op: fsnotify.Rename}, OpDelete, true},
		{"chmod ignored", fsnotify.Event{Name: "/j/2024-01-05.md", Op: fsnotify.Chmod}, 0, false},
		{"other file ignored", fsnotify.Event{Name: "/j/image.png", Op: fsnotify.Write}, 0, false},
		{"temp file ignored", fsnotify.Event{Name: "/j/.2024-01-05.md.123.tmp", Op: fsnotify.Create}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := convertEvent(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("convertEvent() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.Op != tt.wantOp {
				t.Errorf("convertEvent() op = %v, want %v", got.Op, tt.wantOp)
			}
		})
	}
}

func TestWatcher_StartStop(t *testing.T) {
	c := cache.New(cache.Options{})
	defer c.Close()

	w, err := NewWatcher(c, nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !w.IsRunning() {
		t.Error("watcher should be running after Start()")
	}
	if err := w.Start(t.TempDir()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher should not be running after Stop()")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestWatcher_Apply(t *testing.T) {
	folder := t.TempDir()
	c := cache.New(cache.Options{})
	defer c.Close()

	note := filepath.Join(folder, "2024-01-05.md")
	dated := cache.MetadataKey{Folder: folder}
	structured := cache.MetadataKey{Folder: folder, Structured: true}

	trigger := &recordingTrigger{}
	w, err := NewWatcher(c, trigger, nil)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	w.folder = folder

	c.Set(cache.ContentKey{Path: note}, "text")
	c.Set(dated, "list")
	c.Set(structured, "list")

	w.apply(FileEvent{Path: note, Op: OpModify})

	for _, key := range []cache.Key{cache.ContentKey{Path: note}, dated, structured} {
		st, ok := c.State(key)
		if !ok || !st.Invalidated {
			t.Errorf("%s: state = %+v, present %v; want invalidated", cache.Describe(key), st, ok)
		}
	}

	w.apply(FileEvent{Path: note, Op: OpDelete})
	if _, ok := c.Get(cache.ContentKey{Path: note}); ok {
		t.Error("deleted note still cached")
	}
	if _, ok := c.Get(dated); !ok {
		t.Error("metadata removed instead of invalidated")
	}

	if got := trigger.count(); got != 2 {
		t.Errorf("triggers = %d, want 2", got)
	}
}

func TestWatcher_ExternalEdit(t *testing.T) {
	folder := t.TempDir()
	sub := filepath.Join(folder, "2024")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	note := filepath.Join(sub, "2024-01-05.md")
	if err := os.WriteFile(note, []byte("old"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	c := cache.New(cache.Options{})
	defer c.Close()
	c.Set(cache.ContentKey{Path: note}, "old")

	w, err := NewWatcher(c, &recordingTrigger{}, nil)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(folder); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(note, []byte("new"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Path != note {
				continue
			}
			if st, _ := c.State(cache.ContentKey{Path: note}); !st.Invalidated {
				t.Error("content not invalidated after an external edit")
			}
			return
		case <-timeout:
			t.Fatal("timeout waiting for the note event")
		}
	}
}
