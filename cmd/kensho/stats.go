package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "track",
	Short:   "Show streak, workouts and weight progress",
	Long: `Show the progress overview: the current streak (days in a row with the
step goal and every enabled habit met), workouts this week, all-time
completion rate and weight progress.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, false)
		defer a.close()

		sum := a.tracker.Summary(ctx)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				fatalf("%v", err)
			}
			return
		}

		fmt.Printf("%s  day %d\n", ui.RenderAccent(sum.Today), sum.Day)
		fmt.Println(ui.RenderField("Streak", fmt.Sprintf("%d days", sum.Streak)))
		fmt.Println(ui.RenderField("Workouts", fmt.Sprintf("%d this week", sum.WeekWorkouts)))
		fmt.Println(ui.RenderField("Completion", fmt.Sprintf("%d%%", sum.CompletionRate)))
		fmt.Println(ui.RenderField("Weight", fmt.Sprintf("%.1f kg (%.1f lost, %.1f to go)", sum.CurrentWeight, sum.Lost, sum.Remaining)))
		for _, p := range sum.WeightHistory {
			fmt.Println(ui.RenderMuted(fmt.Sprintf("  %s  %.1f", p.Date, p.Weight)))
		}
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "print the overview as JSON")
	rootCmd.AddCommand(statsCmd)
}
