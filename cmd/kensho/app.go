package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cedrickato-personal/kensho-app/internal/tracker"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/local"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	tsync "github.com/cedrickato-personal/kensho-app/internal/tracker/sync"
	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

// app bundles what a command needs to read and edit data.
type app struct {
	store   *local.Store
	session *tsync.Session
	tracker *tracker.Tracker
}

// openApp opens the local store. With connect set and a server configured,
// the session signs in so that edits are pushed; sign-in failures only
// print a warning.
func openApp(ctx context.Context, connect bool) *app {
	store, err := local.Open(cfg.LocalDB(), logger.WithPrefix("local"))
	if err != nil {
		fatalf("opening local store: %v", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		fatalf("initializing local store: %v", err)
	}
	if res, err := store.MigrateLegacy(ctx); err != nil {
		logger.Warn("legacy migration failed", "err", err)
	} else if !res.Skipped {
		fmt.Printf("%s Imported %d days from the previous format\n", ui.RenderAccent("↻"), res.RecordsImported)
	}

	session := tsync.NewSession(tsync.Config{
		Local:          store,
		Logger:         logger.WithPrefix("sync"),
		PublishTimeout: cfg.Remote.Timeout,
	})
	t, err := tracker.New(tracker.Options{Local: store, Session: session, Logger: logger.WithPrefix("tracker")})
	if err != nil {
		fatalf("%v", err)
	}
	a := &app{store: store, session: session, tracker: t}

	if connect && cfg.Configured() {
		client, err := newClient()
		if err != nil {
			fatalf("%v", err)
		}
		if err := session.SignIn(ctx, client); err != nil {
			fmt.Fprintf(os.Stderr, "%s Working offline: %v\n", ui.RenderWarn("⚠"), err)
		}
	}
	return a
}

// close waits for background pushes, signs out and closes the store.
func (a *app) close() {
	a.session.Publisher().Wait()
	if status, err := a.tracker.Status(); status == tsync.StatusError {
		fmt.Fprintf(os.Stderr, "%s Sync problem: %v (changes are saved locally)\n", ui.RenderWarn("⚠"), err)
	}
	a.session.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close local store", "err", err)
	}
}

func newClient() (*remote.Client, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("no device id configured, run 'kensho init'")
	}
	return remote.NewClient(remote.ClientConfig{
		BaseURL:  cfg.Remote.URL,
		Token:    cfg.Remote.Token,
		DeviceID: cfg.DeviceID,
		Timeout:  cfg.Remote.Timeout,
		Logger:   logger.WithPrefix("remote"),
	})
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}
