// Package settings persists small key/value settings, most importantly the
// repositories connected to each journal folder.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stream-journal/stream/internal/store"
)

const connectedReposPrefix = "connected_repos:"

// Store reads and writes settings in the settings table.
type Store struct {
	db  *store.DB
	now func() time.Time
}

// New returns a Store backed by db.
func New(db *store.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.RawDB().QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key, value string) error {
	return put(ctx, s.db.RawDB(), key, value, s.now())
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.RawDB().ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func put(ctx context.Context, db execer, key, value string, now time.Time) error {
	query := `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, key, value, now.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// GetConnectedRepos returns the repositories connected to folder in the order
// they were connected. A folder with none yields an empty list.
func (s *Store) GetConnectedRepos(ctx context.Context, folder string) ([]string, error) {
	value, ok, err := s.Get(ctx, connectedReposPrefix+folder)
	if err != nil || !ok {
		return []string{}, err
	}

	var repos []string
	if err := json.Unmarshal([]byte(value), &repos); err != nil {
		return nil, fmt.Errorf("invalid connected repositories for %s: %w", folder, err)
	}
	if repos == nil {
		repos = []string{}
	}
	return repos, nil
}

// SetConnectedRepos replaces the repositories connected to folder. An empty
// list removes the mapping.
func (s *Store) SetConnectedRepos(ctx context.Context, folder string, repos []string) error {
	tx, err := s.db.RawDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	key := connectedReposPrefix + folder
	if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear connected repositories: %w", err)
	}

	if len(repos) > 0 {
		data, err := json.Marshal(dedupe(repos))
		if err != nil {
			return fmt.Errorf("failed to encode connected repositories: %w", err)
		}
		if err := put(ctx, tx, key, string(data), s.now()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit connected repositories: %w", err)
	}
	return nil
}

// Folders returns every folder that has connected repositories.
func (s *Store) Folders(ctx context.Context) ([]string, error) {
	rows, err := s.db.RawDB().QueryContext(ctx,
		`SELECT key FROM settings WHERE key LIKE ? ORDER BY key`, connectedReposPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, strings.TrimPrefix(key, connectedReposPrefix))
	}
	return folders, rows.Err()
}

// dedupe drops repeated entries, keeping first occurrences in order.
func dedupe(repos []string) []string {
	seen := make(map[string]bool, len(repos))
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
