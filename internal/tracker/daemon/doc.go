// Package daemon keeps a device's sync session running in the background.
//
// # Architecture
//
//   - FileWatcher: fsnotify on the local database file and its -wal companion
//   - Daemon: signs the session in, debounces file events and reloads the
//     local store so that writes made by other processes (the CLI) reach
//     in-memory readers
//
// Remote changes arrive through the session's subscription; the daemon only
// owns its lifetime.
//
// # Usage
//
//	session := tsync.NewSession(tsync.Config{Local: store})
//	d, err := daemon.New(store, session, client, daemon.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	return d.Start(ctx)
//
// # Change Detection
//
// SQLite in WAL mode appends to the -wal file on every commit and truncates
// it on checkpoint, so both files are watched. Events are debounced with
// DebounceInterval; after a quiet period the store is re-read and the
// session's Notifier fires only when the snapshot actually differs.
package daemon
