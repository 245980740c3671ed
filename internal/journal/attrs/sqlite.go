package attrs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/stream-journal/stream/internal/store"
)

// SQLiteStore keeps attributes in the file_attrs table, keyed by absolute
// path. It serves file systems without user extended attributes.
type SQLiteStore struct {
	db *store.DB
}

// NewSQLiteStore returns a SQLiteStore backed by db.
func NewSQLiteStore(db *store.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func normPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, path string) (Attributes, error) {
	var a Attributes
	var interval string
	var lastMs int64

	err := s.db.RawDB().QueryRowContext(ctx, `
		SELECT country, city, description, refresh_interval, last_refreshed_ms
		FROM file_attrs WHERE path = ?`, normPath(path),
	).Scan(&a.Country, &a.City, &a.Description, &interval, &lastMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Attributes{}, nil
	}
	if err != nil {
		return Attributes{}, fmt.Errorf("failed to read attributes of %s: %w", path, err)
	}

	if interval != "" {
		if parsed, err := ParseInterval(interval); err == nil {
			a.RefreshInterval = parsed
		}
	}
	if lastMs > 0 {
		a.LastRefreshed = time.UnixMilli(lastMs)
	}
	return a, nil
}

// upsert sets columns of the row for path, creating the row if needed.
// Column names come from this file only.
func (s *SQLiteStore) upsert(ctx context.Context, path string, columns []string, values ...any) error {
	query := `INSERT INTO file_attrs (path`
	for _, c := range columns {
		query += ", " + c
	}
	query += `) VALUES (?`
	for range columns {
		query += ", ?"
	}
	query += `) ON CONFLICT(path) DO UPDATE SET `
	for i, c := range columns {
		if i > 0 {
			query += ", "
		}
		query += c + " = excluded." + c
	}

	args := append([]any{normPath(path)}, values...)
	if _, err := s.db.RawDB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write attributes of %s: %w", path, err)
	}
	return nil
}

// SetLocation implements Store.
func (s *SQLiteStore) SetLocation(ctx context.Context, path, country, city string) error {
	return s.upsert(ctx, path, []string{"country", "city"}, country, city)
}

// SetDescription implements Store.
func (s *SQLiteStore) SetDescription(ctx context.Context, path, description string) error {
	return s.upsert(ctx, path, []string{"description"}, description)
}

// SetRefreshInterval implements Store.
func (s *SQLiteStore) SetRefreshInterval(ctx context.Context, path string, interval Interval) error {
	return s.upsert(ctx, path, []string{"refresh_interval"}, string(interval))
}

// MarkRefreshed implements Store.
func (s *SQLiteStore) MarkRefreshed(ctx context.Context, path string, at time.Time) error {
	return s.upsert(ctx, path, []string{"last_refreshed_ms"}, at.UnixMilli())
}

// Forget deletes every attribute of path, used when the note is deleted.
func (s *SQLiteStore) Forget(ctx context.Context, path string) error {
	if _, err := s.db.RawDB().ExecContext(ctx, `DELETE FROM file_attrs WHERE path = ?`, normPath(path)); err != nil {
		return fmt.Errorf("failed to delete attributes of %s: %w", path, err)
	}
	return nil
}
