package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/merge"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// ReconcileResult summarizes one reconciliation.
type ReconcileResult struct {
	Snapshot     schema.Snapshot
	Pulled       int  // local records replaced or added from remote
	Pushed       int  // records upserted to remote
	MetaPushed   bool // metadata document upserted to remote
	LocalChanged bool
	Duration     time.Duration
}

// Reconciler performs the full bidirectional merge.
type Reconciler struct {
	local    LocalStore
	remote   remote.Store
	notifier *Notifier
	clock    Clock
	logger   *log.Logger
}

// NewReconciler creates a Reconciler. notifier, clock and logger may be nil.
func NewReconciler(local LocalStore, store remote.Store, notifier *Notifier, clock Clock, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default().WithPrefix("reconcile")
	}
	return &Reconciler{local: local, remote: store, notifier: notifier, clock: clock, logger: logger}
}

// Reconcile merges the local and remote snapshots of userID and writes the
// union back to both stores.
//
// The remote snapshot is fetched first; the merge against the local snapshot
// then happens under the local writer lock, so edits made while the fetch
// was in flight are merged rather than overwritten. Only records whose
// merged value differs from the remote copy are pushed, in one batch, which
// makes a second run with no intervening writes a no-op.
//
// Any failure aborts the run. Remote writes that already landed stay; the
// run is safe to repeat because merging is idempotent per key.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	start := r.clock.now()
	r.logger.Debug("starting reconciliation", "user", userID)

	remoteSnap, err := r.remote.Fetch(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote snapshot: %w", err)
	}
	remoteSnap.Normalize()

	result := &ReconcileResult{}
	merged, err := r.local.Update(ctx, func(cur *schema.Snapshot) (bool, error) {
		next := merge.Snapshot(*cur, remoteSnap, r.clock.now())
		for key, rec := range next.Records {
			if !rec.Equal(cur.Record(key)) {
				result.Pulled++
			}
		}
		result.LocalChanged = !next.Equal(*cur)
		*cur = next
		return result.LocalChanged, nil
	})
	if result.LocalChanged {
		r.notifier.Notify()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write merged snapshot locally: %w", err)
	}
	result.Snapshot = merged

	outgoing := make(map[string]*schema.Record)
	for key, rec := range merged.Records {
		if !rec.Equal(remoteSnap.Record(key)) {
			outgoing[key] = rec
		}
	}
	if len(outgoing) > 0 {
		if err := r.remote.PutRecords(ctx, userID, outgoing); err != nil {
			return nil, fmt.Errorf("failed to push %d merged records: %w", len(outgoing), err)
		}
		result.Pushed = len(outgoing)
	}

	if !merged.Metadata.Equal(remoteSnap.Metadata) {
		if err := r.remote.PutMeta(ctx, userID, merged.Metadata); err != nil {
			return nil, fmt.Errorf("failed to push merged metadata: %w", err)
		}
		result.MetaPushed = true
	}

	result.Duration = r.clock.now().Sub(start)
	r.logger.Info("reconciliation complete",
		"user", userID,
		"records", len(merged.Records),
		"pulled", result.Pulled,
		"pushed", result.Pushed,
		"meta_pushed", result.MetaPushed,
	)
	return result, nil
}

// ReconcileProfile merges the profile document with whole-document
// last-write-wins and writes the winner to whichever side is behind.
func (r *Reconciler) ReconcileProfile(ctx context.Context, userID string) error {
	remoteProfile, err := r.remote.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch remote profile: %w", err)
	}
	localProfile, err := r.local.Profile(ctx)
	if err != nil {
		return fmt.Errorf("failed to read local profile: %w", err)
	}

	winner := merge.Record(localProfile, remoteProfile)
	if winner == nil {
		return nil
	}
	if !winner.Equal(localProfile) {
		if err := r.local.SaveProfile(ctx, winner); err != nil {
			return fmt.Errorf("failed to save profile locally: %w", err)
		}
		r.notifier.Notify()
	}
	if !winner.Equal(remoteProfile) {
		if err := r.remote.PutProfile(ctx, userID, winner); err != nil {
			return fmt.Errorf("failed to push profile: %w", err)
		}
	}
	return nil
}
