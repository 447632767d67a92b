package sync

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/merge"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Applier merges push notifications into the local store.
type Applier struct {
	local    LocalStore
	notifier *Notifier
	logger   *log.Logger
}

// NewApplier creates an Applier. notifier and logger may be nil.
func NewApplier(local LocalStore, notifier *Notifier, logger *log.Logger) *Applier {
	if logger == nil {
		logger = log.Default().WithPrefix("subscription")
	}
	return &Applier{local: local, notifier: notifier, logger: logger}
}

// Apply processes one batch and returns how many records were applied.
//
// Batches caused by this device's own writes are skipped entirely. For every
// other added or modified record, the remote copy replaces the local one only
// when its lastModified is strictly greater. Removals are ignored: records
// are only ever deleted by a full reset. The data-changed signal fires only
// when something was applied.
func (a *Applier) Apply(ctx context.Context, b remote.Batch) int {
	if b.PendingWrite {
		a.logger.Debug("skipping self-echo batch", "changes", len(b.Changes))
		return 0
	}

	applied := 0
	_, err := a.local.Update(ctx, func(snap *schema.Snapshot) (bool, error) {
		for _, c := range b.Changes {
			if c.Type != remote.ChangeAdded && c.Type != remote.ChangeModified {
				continue
			}
			if c.Record == nil {
				continue
			}
			if err := schema.ValidateKey(c.Key); err != nil {
				a.logger.Warn("ignoring remote record", "key", c.Key, "err", err)
				continue
			}
			if merge.RemoteWins(snap.Record(c.Key), c.Record) {
				snap.Records[c.Key] = c.Record.Clone()
				applied++
			}
		}
		return applied > 0, nil
	})
	if err != nil {
		a.logger.Warn("failed to persist remote changes", "err", err)
	}

	if applied > 0 {
		a.logger.Debug("applied remote changes", "applied", applied, "initial", b.Initial)
		a.notifier.Notify()
	}
	return applied
}
