package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/tracker"
	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "track",
	Short:   "Export tracked days",
	Long: `Export every day between --from and --to (inclusive) as CSV,
JSON or YAML. Days never edited are exported with their defaults.

Without --output the export is written to a file named after the range in
the current directory. Use --output - for stdout.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, false)
		defer a.close()

		formatName, _ := cmd.Flags().GetString("format")
		format, err := tracker.ParseFormat(formatName)
		if err != nil {
			fatalf("%v", err)
		}

		loc := a.tracker.Location(ctx)
		now := time.Now()
		fromArg, _ := cmd.Flags().GetString("from")
		toArg, _ := cmd.Flags().GetString("to")
		if fromArg == "" {
			fromArg = valueOr(a.tracker.Snapshot(ctx).Metadata.StartDate, "30 days ago")
		}
		from, err := resolveDate(fromArg, now, loc)
		if err != nil {
			fatalf("%v", err)
		}
		to, err := resolveDate(toArg, now, loc)
		if err != nil {
			fatalf("%v", err)
		}

		rows, err := a.tracker.Export(ctx, from, to)
		if err != nil {
			fatalf("%v", err)
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = tracker.ExportFileName(from, to, format)
		}

		var w io.Writer = os.Stdout
		if output != "-" {
			f, err := os.Create(output)
			if err != nil {
				fatalf("%v", err)
			}
			defer f.Close()
			w = f
		}
		if err := tracker.WriteExport(w, format, rows); err != nil {
			fatalf("writing export: %v", err)
		}
		if output != "-" {
			fmt.Fprintf(os.Stderr, "%s Exported %d days to %s\n", ui.RenderPass("✓"), len(rows), output)
		}
	},
}

func init() {
	exportCmd.Flags().String("from", "", "first day (default the start date)")
	exportCmd.Flags().String("to", "", "last day (default today)")
	exportCmd.Flags().StringP("format", "f", "csv", "csv, json or yaml")
	exportCmd.Flags().StringP("output", "o", "", "output file, - for stdout")
	rootCmd.AddCommand(exportCmd)
}
