// Package remote defines how a device talks to the shared document store.
//
// The Store interface is the whole contract the sync engine relies on. Two
// implementations are provided: Client, which speaks HTTP and WebSocket to a
// kensho server, and Direct, which drives a docstore.Store in-process (used
// by the server's own tests and by single-process setups).
//
// Paths are always derived from the authenticated user id, so a device can
// never address another tenant's documents.
package remote

import (
	"context"
	"errors"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Errors returned by Store implementations. Match with errors.Is.
var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
)

// ChangeType is the kind of change in a notification batch.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// RecordChange is one changed day record.
type RecordChange struct {
	Type   ChangeType
	Key    string
	Record *schema.Record // nil for removals
}

// Batch is one change notification from the record collection.
//
// PendingWrite is set when the batch was caused by this device's own write;
// subscribers skip such batches. Initial marks the first batch of a
// subscription, which lists the whole collection.
type Batch struct {
	Origin       string
	Initial      bool
	PendingWrite bool
	Changes      []RecordChange
}

// Subscription is a live server-push channel on the record collection.
type Subscription interface {
	// Close tears the channel down. After Close returns the callback is
	// never invoked again. Close must not be called from the callback.
	Close() error

	// Done is closed when the channel ends, by Close or by failure.
	Done() <-chan struct{}

	// Err reports why the channel ended; nil after a clean Close.
	Err() error
}

// Store is the remote side of synchronization.
//
// Example:
//
//	userID, err := store.Authenticate(ctx)
//	if err != nil {
//	    return err
//	}
//	snap, err := store.Fetch(ctx, userID)
type Store interface {
	// Authenticate confirms the device credentials and returns the user id.
	Authenticate(ctx context.Context) (string, error)

	// Fetch returns every record and the metadata document of the user.
	// A missing metadata document yields zero Metadata.
	Fetch(ctx context.Context, userID string) (schema.Snapshot, error)

	// PutRecords upserts records as one change batch. Existing records are
	// overwritten in full; nothing is deleted.
	PutRecords(ctx context.Context, userID string, records map[string]*schema.Record) error

	// PutMeta upserts the metadata document.
	PutMeta(ctx context.Context, userID string, meta schema.Metadata) error

	// GetProfile returns the profile document, or nil when none exists.
	GetProfile(ctx context.Context, userID string) (*schema.Record, error)

	// PutProfile upserts the profile document.
	PutProfile(ctx context.Context, userID string, profile *schema.Record) error

	// Subscribe opens the record change channel. fn runs on a single
	// goroutine, one batch at a time.
	Subscribe(ctx context.Context, userID string, fn func(Batch)) (Subscription, error)

	// Reset deletes every document of the user.
	Reset(ctx context.Context, userID string) error
}
