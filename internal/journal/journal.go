// Package journal reads and writes the notes of a journal folder.
//
// A journal folder holds one dated note per day, named YYYY-MM-DD.md and
// possibly nested in sub-directories, plus undated notes under structured/
// that can be regenerated on a schedule.
package journal

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/journal/attrs"
	"github.com/stream-journal/stream/internal/errs"
)

const (
	// DefaultMaxSizeBytes skips notes larger than 10 MiB.
	DefaultMaxSizeBytes int64 = 10 * 1024 * 1024

	// StructuredDir holds undated notes, relative to the folder root.
	StructuredDir = "structured"

	noteExt = ".md"
)

var datedNameRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\.md$`)

// FileMetadata describes one note. FilePath is its identity.
type FileMetadata struct {
	FilePath   string    `json:"file_path" yaml:"file_path"`
	FileName   string    `json:"file_name" yaml:"file_name"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
	Size       int64     `json:"size" yaml:"size"`

	// DateFromFilename is the YYYY-MM-DD day of a dated note, empty for
	// structured notes.
	DateFromFilename string `json:"date_from_filename,omitempty" yaml:"date_from_filename,omitempty"`

	City            string         `json:"city,omitempty" yaml:"city,omitempty"`
	Country         string         `json:"country,omitempty" yaml:"country,omitempty"`
	Description     string         `json:"description,omitempty" yaml:"description,omitempty"`
	RefreshInterval attrs.Interval `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty"`
	LastRefreshedAt time.Time      `json:"last_refreshed_at,omitzero" yaml:"last_refreshed_at,omitempty"`
}

// Options controls metadata scans.
type Options struct {
	// MaxSizeBytes skips larger files. Zero means DefaultMaxSizeBytes.
	MaxSizeBytes int64
}

func (o Options) maxSize() int64 {
	if o.MaxSizeBytes <= 0 {
		return DefaultMaxSizeBytes
	}
	return o.MaxSizeBytes
}

// DateKeyFromFilename returns the YYYY-MM-DD key of a dated note name. It
// reports false for other names and for impossible dates.
func DateKeyFromFilename(name string) (string, bool) {
	if !datedNameRe.MatchString(name) {
		return "", false
	}
	key := strings.TrimSuffix(name, noteExt)
	if _, err := time.Parse("2006-01-02", key); err != nil {
		return "", false
	}
	return key, true
}

// ParseRefreshInterval parses a refresh interval name.
func ParseRefreshInterval(s string) (attrs.Interval, error) {
	return attrs.ParseInterval(s)
}

// Reader implements the journal source readers over the local file system.
type Reader struct {
	attrs attrs.Store
	log   *zap.Logger
}

// NewReader returns a Reader that resolves note attributes through store.
func NewReader(store attrs.Store, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{attrs: store, log: logger.Named("journal")}
}

// Attrs returns the attribute store.
func (r *Reader) Attrs() attrs.Store {
	return r.attrs
}

// ReadFileMetadata scans folder recursively for dated notes no larger than
// the size limit and returns them newest date first. An unreadable folder is
// an *errs.IOError; unreadable entries below it are skipped.
func (r *Reader) ReadFileMetadata(ctx context.Context, folder string, opts Options) ([]FileMetadata, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, &errs.IOError{Op: "scan", Path: folder, Err: err}
	}
	if !info.IsDir() {
		return nil, &errs.IOError{Op: "scan", Path: folder, Err: fmt.Errorf("not a directory")}
	}

	var files []FileMetadata
	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == folder {
				return err
			}
			r.log.Debug("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		dateKey, ok := DateKeyFromFilename(d.Name())
		if !ok {
			return nil
		}

		meta, ok := r.stat(ctx, path, opts)
		if !ok {
			return nil
		}
		meta.DateFromFilename = dateKey
		files = append(files, meta)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.IOError{Op: "scan", Path: folder, Err: err}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].DateFromFilename > files[j].DateFromFilename
	})
	return files, nil
}

// ReadStructuredMetadata lists the notes directly under <folder>/structured,
// most recently modified first. A missing structured directory yields an
// empty list.
func (r *Reader) ReadStructuredMetadata(ctx context.Context, folder string, opts Options) ([]FileMetadata, error) {
	dir := filepath.Join(folder, StructuredDir)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []FileMetadata{}, nil
	}
	if err != nil {
		return nil, &errs.IOError{Op: "scan", Path: dir, Err: err}
	}

	files := []FileMetadata{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), noteExt) {
			continue
		}
		if meta, ok := r.stat(ctx, filepath.Join(dir, entry.Name()), opts); ok {
			files = append(files, meta)
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files, nil
}

// stat builds the metadata of one note; ok is false when it is skipped.
func (r *Reader) stat(ctx context.Context, path string, opts Options) (FileMetadata, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > opts.maxSize() {
		return FileMetadata{}, false
	}

	meta := FileMetadata{
		FilePath:   path,
		FileName:   filepath.Base(path),
		CreatedAt:  birthTime(path, info),
		ModifiedAt: info.ModTime(),
		Size:       info.Size(),
	}

	if r.attrs != nil {
		a, err := r.attrs.Get(ctx, path)
		if err != nil {
			r.log.Debug("failed to read attributes", zap.String("path", path), zap.Error(err))
		}
		meta.Country = a.Country
		meta.City = a.City
		meta.Description = a.Description
		meta.RefreshInterval = a.RefreshInterval
		meta.LastRefreshedAt = a.LastRefreshed
	}
	return meta, true
}

// ReadFileContents reads every path it can. Unreadable files are logged and
// left out of the result; the call itself only fails when ctx is done.
func (r *Reader) ReadFileContents(ctx context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := r.ReadFileContent(ctx, path)
		if err != nil {
			r.log.Warn("failed to read note", zap.String("path", path), zap.Error(err))
			continue
		}
		out[path] = content
	}
	return out, nil
}

// ReadFileContent reads one note.
func (r *Reader) ReadFileContent(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &errs.IOError{Op: "read", Path: path, Err: err}
	}
	return string(data), nil
}

// WriteFileContent replaces the note at path atomically: the content is
// written to a temporary file in the same directory which is then renamed
// over the note. Missing parent directories are created.
func (r *Reader) WriteFileContent(ctx context.Context, path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &errs.IOError{Op: "write", Path: path, Err: err}
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &errs.IOError{Op: "write", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &errs.IOError{Op: "write", Path: path, Err: err}
	}

	if _, err := tmp.WriteString(content); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &errs.IOError{Op: "write", Path: path, Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &errs.IOError{Op: "write", Path: path, Err: err}
	}

	r.log.Debug("wrote note", zap.String("path", path), zap.Int("bytes", len(content)))
	return nil
}

// FilesNeedingRefresh returns the structured notes whose refresh interval has
// elapsed at now since they were last refreshed.
func (r *Reader) FilesNeedingRefresh(ctx context.Context, folder string, now time.Time) ([]string, error) {
	notes, err := r.ReadStructuredMetadata(ctx, folder, Options{})
	if err != nil {
		return nil, err
	}

	var due []string
	for _, n := range notes {
		if n.RefreshInterval.Due(n.LastRefreshedAt, now) {
			due = append(due, n.FilePath)
		}
	}
	return due, nil
}
