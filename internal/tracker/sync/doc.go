// Package sync keeps a device's local store and the shared remote store in
// agreement.
//
// The engine has four parts:
//
//   - Reconciler: a one-shot full merge run when a session signs in. Remote
//     and local snapshots are merged per record (last write wins on
//     lastModified, local wins ties) and the union is written back to both
//     stores. Remote records are never deleted.
//   - Applier: handles push notifications from the remote record collection.
//     Only strictly newer records are applied, and batches caused by this
//     device's own writes are skipped.
//   - Publisher: stamps every local edit with the current time, writes it
//     locally, then upserts it remotely on a background goroutine. Remote
//     failures are logged and never reach the caller; the next
//     reconciliation repairs them.
//   - Session: the per-device state machine
//     SignedOut -> Authenticating -> Reconciling -> Live -> SignedOut.
//
// Local mutations from all three paths are serialized by the local store's
// writer lock. After any change to local data the Notifier fires a
// payload-free "data changed" signal; listeners re-read the local snapshot.
//
// Remote errors never propagate to the application. They are folded into a
// coarse Status (idle, syncing, synced, error) and LastError.
//
// Example:
//
//	notifier := sync.NewNotifier()
//	session := sync.NewSession(sync.Config{Local: store, Notifier: notifier})
//	if err := session.SignIn(ctx, client); err != nil {
//	    return err // credentials rejected
//	}
//	defer session.Close()
//
//	session.Publisher().UpdateRecord(ctx, "2024-06-01", func(r *schema.Record) error {
//	    r.Set("steps", 5000)
//	    return nil
//	})
package sync
