package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: "advanced",
	Short:   "Erase all tracked data",
	Long: `Erase every tracked day, the settings and the weekly reviews.

When signed in, the data on the server is erased first, which removes it
from your other devices on their next sync. If the server cannot be
reached nothing is erased.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !ui.IsTerminal(os.Stdin) {
				fatalf("refusing to erase data without --yes")
			}
			confirmed := false
			err := huh.NewConfirm().
				Title("Erase all tracked data?").
				Description("This cannot be undone.").
				Affirmative("Erase").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				fatalf("%v", err)
			}
			if !confirmed {
				fmt.Println("Cancelled.")
				return
			}
		}

		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, true)
		defer a.close()

		if cfg.Configured() && a.session.UserID() == "" {
			fatalf("server unreachable, nothing was erased")
		}
		if err := a.tracker.Reset(ctx); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s All data erased\n", ui.RenderPass("✓"))
	},
}

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "advanced",
	Short:   "Import data written by the first release",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, false)
		defer a.close()

		res, err := a.store.MigrateLegacy(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		if res.Skipped {
			fmt.Println(ui.RenderMuted("Nothing to migrate: " + res.Reason))
			return
		}
		fmt.Printf("%s Imported %d days\n", ui.RenderPass("✓"), res.RecordsImported)
	},
}

func init() {
	resetCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(migrateCmd)
}
