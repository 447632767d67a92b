// Package local is the on-device store of the tracker.
//
// The store is a key-value table in an embedded SQLite database (WAL mode).
// Values are JSON documents addressed by fixed keys: the tracker snapshot,
// the local-only photo list and the cached profile. Every mutation of the
// tracker snapshot goes through Update, which holds a single-writer lock and
// an IMMEDIATE transaction so that user edits, subscription callbacks and
// reconciliation writes never interleave.
//
// The last successfully read or written snapshot is kept in memory. When the
// database cannot be read or written the in-memory copy stays authoritative,
// so the application keeps working offline even on a broken disk.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Keys of the documents held by the store.
const (
	TrackerKey       = "tracker-v2"
	LegacyTrackerKey = "tracker-v1"
	PhotosKey        = "photos-v1"
	ProfileKey       = "profile-v1"
)

// ErrPersist wraps failures to write the database. The in-memory state has
// already been updated when it is returned.
var ErrPersist = errors.New("local store write failed")

// Store is the local key-value store.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger

	// mu serializes every read-modify-write of the tracker snapshot.
	mu  sync.Mutex
	mem schema.Snapshot

	// dirty is set while mem holds changes the database does not. Reads
	// then answer from mem, and the next Update rewrites it in full.
	dirty bool
}

// Open opens (creating if needed) the store database at path.
//
// The caller must call InitSchema before use and Close when done.
//
// Example:
//
//	store, err := local.Open(filepath.Join(dataDir, "kensho.db"), logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default().WithPrefix("local")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:   conn,
		path:   path,
		logger: logger,
		mem:    schema.NewSnapshot(),
	}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("failed to checkpoint WAL", "err", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the kv table. Safe to call repeatedly.
func (s *Store) InitSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Get returns the raw document stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return getValue(ctx, s.conn, key)
}

// Put stores a raw document under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return putValue(ctx, s.conn, key, value)
}

// Remove deletes the given keys.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

// Load returns the current tracker snapshot.
//
// Read failures and corrupted documents are logged and answered with the
// in-memory copy, which is empty on a fresh start. After a failed write the
// in-memory copy is returned until a write succeeds. Load never fails.
func (s *Store) Load(ctx context.Context) schema.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty {
		return s.mem.Clone()
	}
	snap, ok := s.read(ctx, s.conn)
	if ok {
		s.mem = snap
	}
	return s.mem.Clone()
}

// Update applies fn to the tracker snapshot under the writer lock.
//
// fn reports whether it changed the snapshot; nothing is written otherwise.
// The resulting snapshot is returned. If the database write fails the
// in-memory snapshot still reflects the change and the error wraps ErrPersist;
// later updates start from that snapshot and write it whole, changed or not,
// until a write succeeds. An error returned by fn aborts the update without
// any change.
func (s *Store) Update(ctx context.Context, fn func(*schema.Snapshot) (bool, error)) (schema.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Warn("failed to begin transaction, using in-memory snapshot", "err", err)
		return s.applyInMemory(fn, fmt.Errorf("%w: failed to begin transaction: %v", ErrPersist, err))
	}
	defer func() { _ = tx.Rollback() }()

	var current schema.Snapshot
	if s.dirty {
		current = s.mem.Clone()
	} else if snap, ok := s.read(ctx, tx); ok {
		current = snap
	} else {
		current = s.mem.Clone()
	}

	changed, err := fn(&current)
	if err != nil {
		return s.mem.Clone(), err
	}
	current.Normalize()
	if !changed && !s.dirty {
		s.mem = current
		return current.Clone(), nil
	}

	data, err := json.Marshal(current)
	if err != nil {
		return s.mem.Clone(), fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.mem = current
	if err := putValue(ctx, tx, TrackerKey, data); err != nil {
		s.dirty = true
		s.logger.Warn("failed to persist snapshot", "err", err)
		return current.Clone(), fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := tx.Commit(); err != nil {
		s.dirty = true
		s.logger.Warn("failed to commit snapshot", "err", err)
		return current.Clone(), fmt.Errorf("%w: failed to commit: %v", ErrPersist, err)
	}
	if s.dirty {
		s.logger.Info("in-memory snapshot persisted again")
	}
	s.dirty = false
	return current.Clone(), nil
}

// Replace overwrites the tracker snapshot.
func (s *Store) Replace(ctx context.Context, snap schema.Snapshot) error {
	_, err := s.Update(ctx, func(cur *schema.Snapshot) (bool, error) {
		*cur = snap.Clone()
		return true, nil
	})
	return err
}

// Reload re-reads the snapshot from disk and reports whether it differs from
// the in-memory copy, which happens when another process wrote the database.
// While unpersisted changes are held in memory the disk copy is stale and
// Reload reports no change.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty {
		return false, nil
	}
	snap, ok := s.read(ctx, s.conn)
	if !ok {
		return false, fmt.Errorf("failed to read snapshot")
	}
	if snap.Equal(s.mem) {
		return false, nil
	}
	s.mem = snap
	return true, nil
}

// Clear removes every document, including local-only ones.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem = schema.NewSnapshot()
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		s.dirty = true
		return fmt.Errorf("%w: failed to clear store: %v", ErrPersist, err)
	}
	s.dirty = false
	return nil
}

func (s *Store) applyInMemory(fn func(*schema.Snapshot) (bool, error), persistErr error) (schema.Snapshot, error) {
	current := s.mem.Clone()
	changed, err := fn(&current)
	if err != nil {
		return s.mem.Clone(), err
	}
	current.Normalize()
	s.mem = current
	if !changed {
		return current.Clone(), nil
	}
	s.dirty = true
	return current.Clone(), persistErr
}

// read loads the tracker snapshot. ok is false when the database could not
// be read; a missing or corrupted document yields an empty snapshot.
func (s *Store) read(ctx context.Context, q querier) (schema.Snapshot, bool) {
	data, found, err := getValue(ctx, q, TrackerKey)
	if err != nil {
		s.logger.Warn("failed to read snapshot", "err", err)
		return schema.Snapshot{}, false
	}
	if !found {
		return schema.NewSnapshot(), true
	}

	var snap schema.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("stored snapshot is corrupted, treating as empty", "err", err)
		return schema.NewSnapshot(), true
	}
	snap.Normalize()
	return snap, true
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getValue(ctx context.Context, q querier, key string) ([]byte, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func putValue(ctx context.Context, q querier, key string, value []byte) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
