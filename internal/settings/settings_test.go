package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/stream-journal/stream/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), store.FileName), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(db)
}

func TestStore_GetPutDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "theme"); err != nil || ok {
		t.Fatalf("Get() on empty store = %v, %v; want false, nil", ok, err)
	}

	if err := s.Put(ctx, "theme", "dark"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := s.Put(ctx, "theme", "light"); err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}

	value, ok, err := s.Get(ctx, "theme")
	if err != nil || !ok || value != "light" {
		t.Errorf("Get() = %q, %v, %v; want light, true, nil", value, ok, err)
	}

	if err := s.Delete(ctx, "theme"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "theme"); err != nil {
		t.Errorf("Delete() of missing key failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "theme"); ok {
		t.Error("key still present after Delete")
	}
}

func TestStore_ConnectedRepos(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	repos, err := s.GetConnectedRepos(ctx, "/journal")
	if err != nil {
		t.Fatalf("GetConnectedRepos() failed: %v", err)
	}
	if repos == nil || len(repos) != 0 {
		t.Errorf("unknown folder = %#v, want empty list", repos)
	}

	if err := s.SetConnectedRepos(ctx, "/journal", []string{"/src/b", "/src/a", "/src/b", ""}); err != nil {
		t.Fatalf("SetConnectedRepos() failed: %v", err)
	}
	if err := s.SetConnectedRepos(ctx, "/other", []string{"/src/c"}); err != nil {
		t.Fatalf("SetConnectedRepos() failed: %v", err)
	}

	repos, err = s.GetConnectedRepos(ctx, "/journal")
	if err != nil {
		t.Fatalf("GetConnectedRepos() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"/src/b", "/src/a"}, repos); diff != "" {
		t.Errorf("repos mismatch (-want +got):\n%s", diff)
	}

	folders, err := s.Folders(ctx)
	if err != nil {
		t.Fatalf("Folders() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"/journal", "/other"}, folders); diff != "" {
		t.Errorf("folders mismatch (-want +got):\n%s", diff)
	}

	if err := s.SetConnectedRepos(ctx, "/journal", nil); err != nil {
		t.Fatalf("SetConnectedRepos(nil) failed: %v", err)
	}
	repos, _ = s.GetConnectedRepos(ctx, "/journal")
	if len(repos) != 0 {
		t.Errorf("repos after clearing = %v, want none", repos)
	}
}
