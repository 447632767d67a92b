package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/daemon"
	tsync "github.com/cedrickato-personal/kensho-app/internal/tracker/sync"
	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Merge this device with the server once",
	Long: `Fetch everything stored on the server, merge it with this device and
push back whatever the server is missing. Each day keeps the most recently
edited version. Running sync twice in a row changes nothing the second time.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !cfg.Configured() {
			fatalf("not signed in, run 'kensho login' first")
		}
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, false)
		defer a.close()

		client, err := newClient()
		if err != nil {
			fatalf("%v", err)
		}
		userID, err := client.Authenticate(ctx)
		if err != nil {
			fatalf("signing in: %v", err)
		}

		r := tsync.NewReconciler(a.store, client, a.session.Notifier(), nil, logger.WithPrefix("reconcile"))
		result, err := r.Reconcile(ctx, userID)
		if err != nil {
			fatalf("%v", err)
		}
		if err := r.ReconcileProfile(ctx, userID); err != nil {
			fmt.Fprintf(os.Stderr, "%s Profile not synced: %v\n", ui.RenderWarn("⚠"), err)
		}

		fmt.Printf("%s Synced %d days in %s\n", ui.RenderPass("✓"), len(result.Snapshot.Records), result.Duration.Round(time.Millisecond))
		fmt.Println(ui.RenderField("Pulled", fmt.Sprintf("%d", result.Pulled)))
		fmt.Println(ui.RenderField("Pushed", fmt.Sprintf("%d", result.Pushed)))
		if result.MetaPushed {
			fmt.Println(ui.RenderField("Settings", "pushed"))
		}
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep this device live until interrupted",
	Long: `Sign in, reconcile, then follow changes from other devices as they
arrive. Writes made to the local database by other kensho commands are
picked up as well. Stops on SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !cfg.Configured() {
			fatalf("not signed in, run 'kensho login' first")
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := openApp(ctx, false)
		defer a.close()

		client, err := newClient()
		if err != nil {
			fatalf("%v", err)
		}
		changes, unsubscribe := a.session.Notifier().Subscribe()
		defer unsubscribe()

		d, err := daemon.New(a.store, a.session, client, &daemon.Config{
			DebounceInterval: cfg.Daemon.Debounce,
			ResyncInterval:   cfg.Daemon.ResyncInterval,
			Logger:           logger.WithPrefix("daemon"),
			OnReady: func() {
				fmt.Printf("%s Live as %s (%s)\n", ui.RenderPass("✓"), ui.RenderAccent(a.session.UserID()), a.session.Status())
			},
		})
		if err != nil {
			fatalf("%v", err)
		}

		done := make(chan error, 1)
		go func() { done <- d.Start(ctx) }()

		for {
			select {
			case err := <-done:
				if err != nil {
					fatalf("%v", err)
				}
				fmt.Println(ui.RenderMuted("Stopped."))
				return
			case <-changes:
				snap := a.tracker.Snapshot(context.Background())
				logger.Info("data changed", "days", len(snap.Records), "status", a.session.Status())
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
}
