package sync

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/docstore"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/local"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

var errNetwork = errors.New("network unreachable")

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// setupDocstore opens the shared remote document store.
func setupDocstore(t *testing.T) *docstore.Store {
	t.Helper()

	store, err := docstore.Open(docstore.Options{
		Path:   filepath.Join(t.TempDir(), "remote.db"),
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("docstore.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

// setupLocal opens one device's local store.
func setupLocal(t *testing.T) *local.Store {
	t.Helper()

	store, err := local.Open(filepath.Join(t.TempDir(), "kensho.db"), quietLogger())
	if err != nil {
		t.Fatalf("local.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

// fixedClock returns a clock that ticks one millisecond per call from ms.
func fixedClock(ms int64) Clock {
	var n atomic.Int64
	n.Store(ms)
	return func() time.Time {
		return time.UnixMilli(n.Add(1) - 1)
	}
}

func record(ts int64, kv ...any) *schema.Record {
	rec := schema.NewRecord()
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Set(kv[i].(string), kv[i+1])
	}
	rec.LastModified = ts
	return rec
}

func seedLocal(t *testing.T, store *local.Store, records map[string]*schema.Record, meta schema.Metadata) {
	t.Helper()

	snap := schema.NewSnapshot()
	for k, rec := range records {
		snap.Records[k] = rec
	}
	snap.Metadata = meta
	if err := store.Replace(context.Background(), snap); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// flakyStore wraps a Store and fails selected calls.
type flakyStore struct {
	remote.Store
	fetchErr     atomic.Pointer[error]
	putErr       atomic.Pointer[error]
	subscribeErr atomic.Pointer[error]
	resetErr     atomic.Pointer[error]
}

func newFlakyStore(inner remote.Store) *flakyStore {
	return &flakyStore{Store: inner}
}

func failWith(p *atomic.Pointer[error], err error) {
	p.Store(&err)
}

func loadErr(p *atomic.Pointer[error]) error {
	if e := p.Load(); e != nil {
		return *e
	}
	return nil
}

func (f *flakyStore) Fetch(ctx context.Context, userID string) (schema.Snapshot, error) {
	if err := loadErr(&f.fetchErr); err != nil {
		return schema.Snapshot{}, err
	}
	return f.Store.Fetch(ctx, userID)
}

func (f *flakyStore) PutRecords(ctx context.Context, userID string, records map[string]*schema.Record) error {
	if err := loadErr(&f.putErr); err != nil {
		return err
	}
	return f.Store.PutRecords(ctx, userID, records)
}

func (f *flakyStore) PutMeta(ctx context.Context, userID string, meta schema.Metadata) error {
	if err := loadErr(&f.putErr); err != nil {
		return err
	}
	return f.Store.PutMeta(ctx, userID, meta)
}

func (f *flakyStore) Subscribe(ctx context.Context, userID string, fn func(remote.Batch)) (remote.Subscription, error) {
	if err := loadErr(&f.subscribeErr); err != nil {
		return nil, err
	}
	return f.Store.Subscribe(ctx, userID, fn)
}

func (f *flakyStore) Reset(ctx context.Context, userID string) error {
	if err := loadErr(&f.resetErr); err != nil {
		return err
	}
	return f.Store.Reset(ctx, userID)
}
