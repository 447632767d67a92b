package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/docstore"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/server"
	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run a kensho sync server",
	Long: `Serve the document store over HTTP for kensho clients.

Users and their tokens come from [[server.users]] in the config file.
With server.replica_url set, the database is an embedded replica of a
libSQL primary and is synced every server.sync_interval.

Prometheus metrics are exposed at /metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}
		tokens := cfg.Server.Tokens()
		if len(tokens) == 0 {
			fatalf("no users configured, add [[server.users]] entries to %s", configPath())
		}

		metrics := server.NewMetrics()
		store, err := docstore.Open(docstore.Options{
			Path:         cfg.ServerDB(),
			ReplicaURL:   cfg.Server.ReplicaURL,
			ReplicaToken: cfg.Server.ReplicaToken,
			SyncInterval: cfg.Server.SyncInterval,
			OnDrop:       metrics.OnDrop,
			Logger:       logger.WithPrefix("docstore"),
		})
		if err != nil {
			fatalf("opening document store: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close document store", "err", err)
			}
		}()
		if err := store.InitSchema(context.Background()); err != nil {
			fatalf("initializing document store: %v", err)
		}

		srv := server.NewServer(store, &server.Config{
			Addr:    addr,
			Tokens:  tokens,
			Metrics: metrics,
			Logger:  logger.WithPrefix("server"),
		})
		if err := srv.Start(); err != nil {
			fatalf("starting server: %v", err)
		}
		fmt.Printf("%s Listening on %s for %d users\n", ui.RenderPass("✓"), ui.RenderAccent(srv.GetAddr()), len(tokens))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		if err := srv.Stop(); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
		fmt.Println(ui.RenderMuted("Stopped."))
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default server.addr)")
	rootCmd.AddCommand(serveCmd)
}
