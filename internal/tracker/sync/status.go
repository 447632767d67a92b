package sync

import (
	"context"
	"time"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Status is the coarse sync indicator shown to the user.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// State is a session state.
type State int

const (
	StateSignedOut State = iota
	StateAuthenticating
	StateReconciling
	StateLive
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed-out"
	case StateAuthenticating:
		return "authenticating"
	case StateReconciling:
		return "reconciling"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// LocalStore is what the engine needs from the on-device store.
// local.Store implements it.
type LocalStore interface {
	Load(ctx context.Context) schema.Snapshot
	Update(ctx context.Context, fn func(*schema.Snapshot) (bool, error)) (schema.Snapshot, error)
	Profile(ctx context.Context) (*schema.Record, error)
	SaveProfile(ctx context.Context, profile *schema.Record) error
	Clear(ctx context.Context) error
}
