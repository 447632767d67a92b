package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "advanced",
	Short:   "Create the config file and local database",
	Long: `Create the kensho home directory, a config file with a fresh device id,
and the local database. Data written by the first release is imported.

Running init again keeps the existing config and data.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath()
		created := cfg.EnsureDeviceID()
		if err := cfg.Save(path); err != nil {
			fatalf("saving config: %v", err)
		}

		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, false)
		defer a.close()

		if created {
			fmt.Printf("%s Created device %s\n", ui.RenderPass("✓"), cfg.DeviceID)
		}
		fmt.Println(ui.RenderField("Config", path))
		fmt.Println(ui.RenderField("Database", a.store.Path()))
	},
}

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Sign in to a kensho server",
	Long: `Sign in to a kensho server so this device syncs with your others.

The token is checked against the server and the user id it resolves to is
stored in the config file. Without --url and --token an interactive form
is shown.`,
	Run: func(cmd *cobra.Command, args []string) {
		serverURL, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")

		if serverURL == "" {
			serverURL = cfg.Remote.URL
		}
		if (serverURL == "" || token == "") && ui.IsTerminal(os.Stdin) {
			if err := loginForm(&serverURL, &token); err != nil {
				fatalf("%v", err)
			}
		}
		if serverURL == "" || token == "" {
			fatalf("both --url and --token are required")
		}

		cfg.EnsureDeviceID()
		cfg.Remote.URL = strings.TrimRight(serverURL, "/")
		cfg.Remote.Token = token

		client, err := newClient()
		if err != nil {
			fatalf("%v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Remote.Timeout)
		defer cancel()
		userID, err := client.Authenticate(ctx)
		if err != nil {
			fatalf("signing in: %v", err)
		}
		cfg.Remote.UserID = userID
		if err := cfg.Save(configPath()); err != nil {
			fatalf("saving config: %v", err)
		}
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), ui.RenderAccent(userID))
		fmt.Println(ui.RenderMuted("Run 'kensho sync' to merge this device with the server."))
	},
}

func loginForm(serverURL, token *string) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server URL").
				Placeholder("https://kensho.example.com").
				Value(serverURL).
				Validate(func(s string) error {
					u, err := url.Parse(s)
					if err != nil || u.Host == "" {
						return errors.New("enter an absolute http(s) URL")
					}
					return nil
				}),
			huh.NewInput().
				Title("Token").
				EchoMode(huh.EchoModePassword).
				Value(token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token is required")
					}
					return nil
				}),
		),
	).Run()
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Stop syncing this device",
	Long: `Forget the server credentials. Data on this device is kept and stays
editable offline.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !cfg.Configured() {
			fmt.Println("Not signed in.")
			return
		}
		cfg.Remote.Token = ""
		cfg.Remote.UserID = ""
		if err := cfg.Save(configPath()); err != nil {
			fatalf("saving config: %v", err)
		}
		fmt.Printf("%s Signed out. Local data is kept.\n", ui.RenderPass("✓"))
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show account and sync status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, false)
		defer a.close()

		snap := a.tracker.Snapshot(ctx)
		today := a.tracker.Today(ctx)

		fmt.Println(ui.RenderField("Device", valueOr(cfg.DeviceID, "not initialized")))
		if cfg.Configured() {
			fmt.Println(ui.RenderField("Server", cfg.Remote.URL))
			fmt.Println(ui.RenderField("User", valueOr(cfg.Remote.UserID, "unknown")))
		} else {
			fmt.Println(ui.RenderField("Server", ui.RenderMuted("offline only")))
		}
		fmt.Println(ui.RenderField("Database", a.store.Path()))
		fmt.Println(ui.RenderField("Days", fmt.Sprintf("%d", len(snap.Records))))
		fmt.Println(ui.RenderField("Started", valueOr(snap.Metadata.StartDate, "not set")))
		fmt.Println(ui.RenderField("Today", fmt.Sprintf("%s (day %d)", today, a.tracker.DayNumber(ctx, today))))
	},
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func init() {
	loginCmd.Flags().String("url", "", "server URL")
	loginCmd.Flags().String("token", os.Getenv("KENSHO_TOKEN"), "access token (default $KENSHO_TOKEN)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
}
