package session

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/stream-journal/stream/internal/cache"
	"github.com/stream-journal/stream/internal/cache/mutate"
	"github.com/stream-journal/stream/internal/journal"
	"github.com/stream-journal/stream/internal/journal/attrs"
	"github.com/stream-journal/stream/internal/vcs"
)

// Metadata returns the dated notes of the folder, newest date first.
func (s *Session) Metadata(ctx context.Context) ([]journal.FileMetadata, error) {
	return cache.FetchOrGet(ctx, s.cache, cache.MetadataKey{Folder: s.folder},
		func(ctx context.Context) ([]journal.FileMetadata, error) {
			return s.reader.ReadFileMetadata(ctx, s.folder, journal.Options{})
		}, s.cfg.Cache.StaleAfter)
}

// StructuredMetadata returns the structured notes, most recently modified
// first.
func (s *Session) StructuredMetadata(ctx context.Context) ([]journal.FileMetadata, error) {
	return cache.FetchOrGet(ctx, s.cache, cache.MetadataKey{Folder: s.folder, Structured: true},
		func(ctx context.Context) ([]journal.FileMetadata, error) {
			return s.reader.ReadStructuredMetadata(ctx, s.folder, journal.Options{})
		}, s.cfg.Cache.StaleAfter)
}

// Content returns the text of one note.
func (s *Session) Content(ctx context.Context, path string) (string, error) {
	path, err := s.notePath(path)
	if err != nil {
		return "", err
	}
	return cache.FetchOrGet(ctx, s.cache, cache.ContentKey{Path: path},
		func(ctx context.Context) (string, error) {
			return s.reader.ReadFileContent(ctx, path)
		}, s.cfg.Cache.StaleAfter)
}

// Contents returns the text of every readable note in paths.
func (s *Session) Contents(ctx context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		content, err := s.Content(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out[p] = content
	}
	return out, nil
}

// Search finds note lines matching query. Notes are read from disk so
// unsaved queued edits are not searched.
func (s *Session) Search(ctx context.Context, query string, opts journal.SearchOptions) (journal.SearchResults, error) {
	return s.reader.Search(ctx, s.folder, query, opts)
}

// SaveContent writes a note optimistically: readers see content at once and
// the previous cache state comes back if the write fails.
func (s *Session) SaveContent(ctx context.Context, path, content string) error {
	path, err := s.notePath(path)
	if err != nil {
		return err
	}
	err = mutate.Mutate(ctx, s.mutator, cache.ContentKey{Path: path}, content,
		func(ctx context.Context, v string) error {
			return s.reader.WriteFileContent(ctx, path, v)
		})
	if err != nil {
		return err
	}
	s.cache.Invalidate(cache.MetadataForFolder(s.folder))
	return nil
}

// QueueEdit stores content in the cache now and writes it once edits to the
// note pause for the configured debounce.
func (s *Session) QueueEdit(path, content string) error {
	path, err := s.notePath(path)
	if err != nil {
		return err
	}
	return s.saves.Queue(cache.ContentKey{Path: path}, content)
}

// FlushEdits writes every queued edit now.
func (s *Session) FlushEdits(ctx context.Context) error {
	return s.saves.Flush(ctx)
}

func (s *Session) saveContent(ctx context.Context, key cache.Key, content string) error {
	ck, ok := key.(cache.ContentKey)
	if !ok {
		return fmt.Errorf("cannot save %s", cache.Describe(key))
	}
	if err := s.reader.WriteFileContent(ctx, ck.Path, content); err != nil {
		return err
	}
	s.cache.Invalidate(cache.MetadataForFolder(s.folder))
	return nil
}

// SetDescription sets the description of a note.
func (s *Session) SetDescription(ctx context.Context, path, description string) error {
	return s.updateAttrs(ctx, path,
		func(m *journal.FileMetadata) { m.Description = description },
		func(ctx context.Context, path string) error {
			return s.reader.Attrs().SetDescription(ctx, path, description)
		})
}

// SetLocation sets where a note was written.
func (s *Session) SetLocation(ctx context.Context, path, country, city string) error {
	return s.updateAttrs(ctx, path,
		func(m *journal.FileMetadata) { m.Country, m.City = country, city },
		func(ctx context.Context, path string) error {
			return s.reader.Attrs().SetLocation(ctx, path, country, city)
		})
}

// SetRefreshInterval sets how often a structured note is regenerated.
func (s *Session) SetRefreshInterval(ctx context.Context, path string, interval attrs.Interval) error {
	return s.updateAttrs(ctx, path,
		func(m *journal.FileMetadata) { m.RefreshInterval = interval },
		func(ctx context.Context, path string) error {
			return s.reader.Attrs().SetRefreshInterval(ctx, path, interval)
		})
}

// updateAttrs applies edit to the cached metadata list holding path and
// persists the attribute. A list that is not cached is left alone.
func (s *Session) updateAttrs(ctx context.Context, path string, edit func(*journal.FileMetadata), persist func(ctx context.Context, path string) error) error {
	path, err := s.notePath(path)
	if err != nil {
		return err
	}

	key := s.metadataKeyFor(path)
	list, ok := cache.Lookup[[]journal.FileMetadata](s.cache, key)
	if !ok {
		return persist(ctx, path)
	}

	updated := make([]journal.FileMetadata, len(list))
	copy(updated, list)
	for i := range updated {
		if updated[i].FilePath == path {
			edit(&updated[i])
		}
	}

	return s.mutator.Apply(ctx, key, updated, func(ctx context.Context) error {
		return persist(ctx, path)
	})
}

func (s *Session) metadataKeyFor(path string) cache.MetadataKey {
	structured := filepath.Dir(path) == filepath.Join(s.folder, journal.StructuredDir)
	return cache.MetadataKey{Folder: s.folder, Structured: structured}
}

// notePath resolves path against the folder and rejects paths outside it.
func (s *Session) notePath(path string) (string, error) {
	path, err := vcs.SanitizePath(path, s.folder)
	if err != nil {
		return "", err
	}
	if !vcs.IsSubPath(s.folder, path) {
		return "", fmt.Errorf("%s is outside the journal folder %s", path, s.folder)
	}
	return path, nil
}
