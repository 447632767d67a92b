// Package docstore persists the shared, multi-tenant document tree that all
// of a user's devices synchronize against.
//
// Documents live at tenant/{tenant}/{collection}/{id} and hold opaque JSON.
// The store never interprets timestamps: an upsert overwrites the whole
// document, and conflict resolution is left to the devices. Every committed
// write is announced on an in-process change feed, one batch per collection,
// tagged with the device id of the writer.
//
// Two backends are supported: a local SQLite file (ncruces/go-sqlite3), and a
// libSQL embedded replica of a remote primary (go-libsql) when a replica URL
// is configured.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tursodatabase/go-libsql"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is one stored document.
type Document struct {
	Path         Path
	Data         json.RawMessage
	LastModified int64
	Origin       string
	UpdatedAt    time.Time
}

// Options configures Open.
type Options struct {
	// Path of the database file (or of the embedded replica).
	Path string

	// ReplicaURL, when set, opens Path as an embedded replica of this libSQL
	// primary instead of a standalone SQLite file.
	ReplicaURL   string
	ReplicaToken string
	SyncInterval time.Duration

	// WatchBuffer is the per-watcher batch buffer (default 64).
	WatchBuffer int

	// OnDrop is called whenever a batch is dropped for a slow watcher.
	OnDrop func()

	Logger *log.Logger
}

// Store is the document store.
type Store struct {
	conn      *sql.DB
	connector interface{ Close() error }
	path      string
	buffer    int
	feed      *feed
	logger    *log.Logger
}

// Open opens the document store described by opts.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default().WithPrefix("docstore")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	s := &Store{
		path:   opts.Path,
		buffer: opts.WatchBuffer,
		feed:   newFeed(opts.Logger, opts.OnDrop),
		logger: opts.Logger,
	}

	if opts.ReplicaURL != "" {
		if err := s.openReplica(opts); err != nil {
			return nil, err
		}
		return s, nil
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)", opts.Path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)
	s.conn = conn

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return s, nil
}

func (s *Store) openReplica(opts Options) error {
	interval := opts.SyncInterval
	if interval <= 0 {
		interval = time.Minute
	}

	connector, err := libsql.NewEmbeddedReplicaConnector(opts.Path, opts.ReplicaURL,
		libsql.WithAuthToken(opts.ReplicaToken),
		libsql.WithSyncInterval(interval),
	)
	if err != nil {
		return fmt.Errorf("failed to open embedded replica: %w", err)
	}

	s.connector = connector
	s.conn = sql.OpenDB(connector)
	if err := s.conn.Ping(); err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to ping replica: %w", err)
	}
	s.logger.Info("opened embedded replica", "path", opts.Path, "primary", opts.ReplicaURL)
	return nil
}

// Close closes every watcher and the database.
func (s *Store) Close() error {
	s.feed.closeAll()
	if s.conn == nil {
		return nil
	}

	var errs []error
	if err := s.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	if s.connector != nil {
		if err := s.connector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close replica connector: %w", err))
		}
	}
	s.conn = nil
	return errors.Join(errs...)
}

// InitSchema creates the documents table. Safe to call repeatedly.
func (s *Store) InitSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS documents (
		tenant        TEXT NOT NULL,
		collection    TEXT NOT NULL,
		doc_id        TEXT NOT NULL,
		body          TEXT NOT NULL,
		last_modified INTEGER NOT NULL DEFAULT 0,
		origin        TEXT NOT NULL DEFAULT '',
		updated_at    TEXT NOT NULL,
		PRIMARY KEY (tenant, collection, doc_id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(tenant, updated_at);`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Get returns one document.
func (s *Store) Get(ctx context.Context, p Path) (*Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var (
		body      string
		updatedAt string
		doc       = Document{Path: p}
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT body, last_modified, origin, updated_at FROM documents
		WHERE tenant = ? AND collection = ? AND doc_id = ?`,
		p.Tenant, p.Collection, p.ID,
	).Scan(&body, &doc.LastModified, &doc.Origin, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", p, err)
	}

	doc.Data = json.RawMessage(body)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &doc, nil
}

// List returns every document of a tenant collection ordered by id.
func (s *Store) List(ctx context.Context, tenant, collection string) ([]Document, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT doc_id, body, last_modified, origin, updated_at FROM documents
		WHERE tenant = ? AND collection = ?
		ORDER BY doc_id`,
		tenant, collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s/%s: %w", tenant, collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			body      string
			updatedAt string
			doc       = Document{Path: Path{Tenant: tenant, Collection: collection}}
		)
		if err := rows.Scan(&doc.Path.ID, &body, &doc.LastModified, &doc.Origin, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Data = json.RawMessage(body)
		doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// Put upserts documents in one transaction on behalf of the device origin.
// Each document replaces any existing one at the same path. After commit,
// one batch per touched collection is published to watchers.
func (s *Store) Put(ctx context.Context, origin string, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, doc := range docs {
		if err := doc.Path.Validate(); err != nil {
			return fmt.Errorf("invalid document path: %w", err)
		}
		if !json.Valid(doc.Data) {
			return fmt.Errorf("document %s is not valid JSON", doc.Path)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	batches := make(map[string]*Batch)
	for _, doc := range docs {
		var exists int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM documents WHERE tenant = ? AND collection = ? AND doc_id = ?`,
			doc.Path.Tenant, doc.Path.Collection, doc.Path.ID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", doc.Path, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (tenant, collection, doc_id, body, last_modified, origin, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant, collection, doc_id) DO UPDATE SET
				body = excluded.body,
				last_modified = excluded.last_modified,
				origin = excluded.origin,
				updated_at = excluded.updated_at`,
			doc.Path.Tenant, doc.Path.Collection, doc.Path.ID,
			string(doc.Data), doc.LastModified, origin, now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert %s: %w", doc.Path, err)
		}

		changeType := ChangeAdded
		if exists > 0 {
			changeType = ChangeModified
		}
		doc.Origin = origin
		doc.UpdatedAt = now

		key := feedKey(doc.Path.Tenant, doc.Path.Collection)
		b, ok := batches[key]
		if !ok {
			b = &Batch{Tenant: doc.Path.Tenant, Collection: doc.Path.Collection, Origin: origin}
			batches[key] = b
		}
		b.Changes = append(b.Changes, Change{Type: changeType, Document: doc})
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(batches)
	return nil
}

// DeleteTenant removes every document of a tenant and returns how many were
// deleted. Watchers receive removal batches.
func (s *Store) DeleteTenant(ctx context.Context, tenant, origin string) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT collection, doc_id FROM documents WHERE tenant = ?`, tenant)
	if err != nil {
		return 0, fmt.Errorf("failed to list tenant %s: %w", tenant, err)
	}
	var paths []Path
	for rows.Next() {
		p := Path{Tenant: tenant}
		if err := rows.Scan(&p.Collection, &p.ID); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan document: %w", err)
		}
		paths = append(paths, p)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate documents: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE tenant = ?`, tenant); err != nil {
		return 0, fmt.Errorf("failed to delete tenant %s: %w", tenant, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	batches := make(map[string]*Batch)
	for _, p := range paths {
		key := feedKey(p.Tenant, p.Collection)
		b, ok := batches[key]
		if !ok {
			b = &Batch{Tenant: p.Tenant, Collection: p.Collection, Origin: origin}
			batches[key] = b
		}
		b.Changes = append(b.Changes, Change{Type: ChangeRemoved, Document: Document{Path: p, Origin: origin}})
	}
	s.publish(batches)
	return len(paths), nil
}

// Watch registers a watcher on a tenant collection. The caller must Close it.
func (s *Store) Watch(tenant, collection string) *Watcher {
	return s.feed.add(tenant, collection, s.buffer)
}

// Snapshot registers a watcher and returns it together with the current
// contents of the collection, as an initial batch. Registering first means no
// write can fall between the snapshot and the first live batch.
func (s *Store) Snapshot(ctx context.Context, tenant, collection string) (*Watcher, Batch, error) {
	w := s.Watch(tenant, collection)

	docs, err := s.List(ctx, tenant, collection)
	if err != nil {
		w.Close()
		return nil, Batch{}, err
	}

	initial := Batch{Tenant: tenant, Collection: collection, Initial: true}
	for _, doc := range docs {
		initial.Changes = append(initial.Changes, Change{Type: ChangeAdded, Document: doc})
	}
	return w, initial, nil
}

// WatcherCount returns the number of registered watchers.
func (s *Store) WatcherCount() int {
	return s.feed.count()
}

func (s *Store) publish(batches map[string]*Batch) {
	keys := make([]string, 0, len(batches))
	for k := range batches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.feed.publish(*batches[k])
	}
}
