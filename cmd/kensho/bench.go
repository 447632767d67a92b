package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/loadtest"
	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Simulate several devices editing at once",
	Long: `Run a sync load test in a scratch directory: several simulated devices
share one in-process server and edit random days concurrently. Reports
local write latency and whether the devices converged.

Your own data is not touched.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		devices, _ := cmd.Flags().GetInt("devices")
		days, _ := cmd.Flags().GetInt("days")
		edits, _ := cmd.Flags().GetInt("edits")
		seed, _ := cmd.Flags().GetInt64("seed")

		dir, err := os.MkdirTemp("", "kensho-bench-*")
		if err != nil {
			fatalf("%v", err)
		}
		defer os.RemoveAll(dir)

		result, err := loadtest.Run(context.Background(), dir, loadtest.Config{
			Devices:        devices,
			Days:           days,
			EditsPerDevice: edits,
			Seed:           seed,
			Logger:         logger.WithPrefix("bench"),
		})
		if err != nil {
			fatalf("%v", err)
		}

		result.Writes.PrintStats(os.Stdout)
		fmt.Println()
		live := ui.RenderPass("yes")
		if !result.LiveConverged {
			live = ui.RenderWarn("no")
		}
		fmt.Println(ui.RenderField("Live converged", fmt.Sprintf("%s (%v)", live, result.Settle.Round(time.Millisecond))))
		fmt.Println(ui.RenderField("Repaired", fmt.Sprintf("%d", result.Repaired)))
		fmt.Println(ui.RenderField("Records", fmt.Sprintf("%d", result.Records)))
	},
}

func init() {
	benchCmd.Flags().Int("devices", 4, "simulated devices")
	benchCmd.Flags().Int("days", 30, "distinct days edited")
	benchCmd.Flags().Int("edits", 50, "edits per device")
	benchCmd.Flags().Int64("seed", 42, "seed for the edit pattern")
	rootCmd.AddCommand(benchCmd)
}
