package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	// FileName is the name of the cache database within the data directory
	FileName = "cache.db"

	schema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	stored_at  INTEGER NOT NULL,
	expires_at INTEGER
)`
)

// Entry describes a stored value without decoding it
type Entry struct {
	Key      string
	StoredAt time.Time
	// Expires is zero for entries that never expire
	Expires time.Time
}

// Store keeps JSON encoded values in a SQLite database. Values stored with an
// expiry are removed the first time they are read after expiring.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the cache database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get decodes the value stored under key into v. It reports false when there
// is no entry or the entry expired.
func (s *Store) Get(ctx context.Context, key string, v any) (bool, error) {
	var payload []byte
	var expires sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT payload, expires_at FROM entries WHERE key = ?`, key)
	if err := row.Scan(&payload, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	if expires.Valid && !s.now().Before(time.Unix(0, expires.Int64)) {
		logrus.WithField("key", key).Debug("Cache entry expired")
		if err := s.Delete(ctx, key); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// Put stores v under key. A zero expiry keeps the entry until it is replaced
// or deleted.
func (s *Store) Put(ctx context.Context, key string, v any, expiry time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	now := s.now()
	var expires sql.NullInt64
	if expiry > 0 {
		expires = sql.NullInt64{Int64: now.Add(expiry).UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (key, payload, stored_at, expires_at) VALUES (?, ?, ?, ?)`,
		key, payload, now.UnixNano(), expires)
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

// Delete removes the entry stored under key, if any
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// Lookup returns entry metadata without checking expiry
func (s *Store) Lookup(ctx context.Context, key string) (*Entry, error) {
	var stored int64
	var expires sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT stored_at, expires_at FROM entries WHERE key = ?`, key)
	if err := row.Scan(&stored, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	entry := &Entry{Key: key, StoredAt: time.Unix(0, stored)}
	if expires.Valid {
		entry.Expires = time.Unix(0, expires.Int64)
	}
	return entry, nil
}
