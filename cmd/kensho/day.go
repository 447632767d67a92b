package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/tracker"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

var dayCmd = &cobra.Command{
	Use:     "day",
	GroupID: "track",
	Short:   "Show or edit one day",
}

var dayGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show a day",
	Long: `Show the habits tracked on a day. Days never edited show the defaults.

--date accepts YYYY-MM-DD or phrases such as "yesterday" or "last friday".`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, false)
		defer a.close()

		key := dayKey(cmd, a)
		rec, err := a.tracker.Day(ctx, key)
		if err != nil {
			fatalf("%v", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rec); err != nil {
				fatalf("%v", err)
			}
			return
		}

		goals := a.tracker.Goals(ctx)
		totals := tracker.DayTotals(rec)
		fmt.Printf("%s  day %d\n", ui.RenderAccent(key), a.tracker.DayNumber(ctx, key))
		fmt.Println(ui.RenderField("Points", fmt.Sprintf("%d", tracker.DayPoints(rec, goals))))
		fmt.Println(ui.RenderField("Calories", fmt.Sprintf("%.0f / %d", totals.Calories, goals.Calories)))
		fmt.Println(ui.RenderField("Water", fmt.Sprintf("%d / %d", rec.Int("water"), goals.Water)))
		fmt.Println(ui.RenderField("Steps", fmt.Sprintf("%d / %d", tracker.Steps(rec, goals), goals.Steps)))
		if name := tracker.WorkoutName(rec, goals); name != "" {
			fmt.Println(ui.RenderField("Workout", name))
		}

		fields := make([]string, 0, len(rec.Fields))
		for f := range rec.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			v, _ := rec.Get(f)
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			fmt.Println(ui.RenderMuted(fmt.Sprintf("  %-14s %s", f, b)))
		}
		if rec.LastModified > 0 {
			fmt.Println(ui.RenderMuted("  edited " + time.UnixMilli(rec.LastModified).Format(time.RFC3339)))
		}
	},
}

var daySetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set a field of a day",
	Long: `Set one field of a day and sync it.

The value is read as JSON when it parses (true, 3, 81.5, ["a"]) and kept
as a plain string otherwise.

Examples:
  kensho day set water 6
  kensho day set workout true --date yesterday
  kensho day set note "long walk"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, true)
		defer a.close()

		key := dayKey(cmd, a)
		rec, err := a.tracker.SetField(ctx, key, args[0], parseValue(args[1]))
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s %s %s = %s\n", ui.RenderPass("✓"), key, args[0], args[1])
		fmt.Println(ui.RenderField("Points", fmt.Sprintf("%d", tracker.DayPoints(rec, a.tracker.Goals(ctx)))))
	},
}

var reviewCmd = &cobra.Command{
	Use:     "review",
	GroupID: "track",
	Short:   "Write the weekly review",
	Long: `Save the review for the week containing --date (default today).
Fields left empty keep what another device may have written.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, true)
		defer a.close()

		worked, _ := cmd.Flags().GetString("worked")
		didnt, _ := cmd.Flags().GetString("didnt")
		adjust, _ := cmd.Flags().GetString("adjust")

		key := dayKey(cmd, a)
		week, err := a.tracker.SaveWeeklyReview(ctx, key, schema.WeeklyReview{Worked: worked, Didnt: didnt, Adjust: adjust})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Saved review for week %s\n", ui.RenderPass("✓"), ui.RenderAccent(week))
	},
}

var startDateCmd = &cobra.Command{
	Use:     "start-date [date]",
	GroupID: "track",
	Short:   "Show or set the program start date",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, len(args) == 1)
		defer a.close()

		if len(args) == 0 {
			fmt.Println(valueOr(a.tracker.Snapshot(ctx).Metadata.StartDate, "not set"))
			return
		}
		key, err := resolveDate(args[0], time.Now(), a.tracker.Location(ctx))
		if err != nil {
			fatalf("%v", err)
		}
		if err := a.tracker.SetStartDate(ctx, key); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Program starts %s\n", ui.RenderPass("✓"), ui.RenderAccent(key))
	},
}

var timezoneCmd = &cobra.Command{
	Use:     "timezone [name]",
	GroupID: "track",
	Short:   "Show or set the timezone that decides today",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, len(args) == 1)
		defer a.close()

		if len(args) == 0 {
			fmt.Println(a.tracker.Location(ctx))
			return
		}
		if err := a.tracker.SetTimezone(ctx, args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Timezone set to %s\n", ui.RenderPass("✓"), ui.RenderAccent(args[0]))
	},
}

func dayKey(cmd *cobra.Command, a *app) string {
	date, _ := cmd.Flags().GetString("date")
	key, err := resolveDate(date, time.Now(), a.tracker.Location(cmd.Context()))
	if err != nil {
		fatalf("%v", err)
	}
	return key
}

// parseValue reads s as JSON, falling back to the raw string.
func parseValue(s string) any {
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

func init() {
	for _, c := range []*cobra.Command{dayGetCmd, daySetCmd, reviewCmd} {
		c.Flags().String("date", "", "day to use (default today)")
	}
	dayGetCmd.Flags().Bool("json", false, "print the raw record")
	reviewCmd.Flags().String("worked", "", "what worked this week")
	reviewCmd.Flags().String("didnt", "", "what didn't work")
	reviewCmd.Flags().String("adjust", "", "what to adjust next week")

	dayCmd.AddCommand(dayGetCmd)
	dayCmd.AddCommand(daySetCmd)
	rootCmd.AddCommand(dayCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(startDateCmd)
	rootCmd.AddCommand(timezoneCmd)
}
