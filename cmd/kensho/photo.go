package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/ui"
)

var photoCmd = &cobra.Command{
	Use:     "photo",
	GroupID: "track",
	Short:   "Manage progress photos",
	Long: `Progress photos are kept on this device only; they are not synced.
Only the path is recorded, the image file itself is not copied.`,
}

var photoAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Record a progress photo",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, false)
		defer a.close()

		path, err := filepath.Abs(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		caption, _ := cmd.Flags().GetString("caption")
		photo, err := a.tracker.AddPhoto(ctx, dayKey(cmd, a), path, caption)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Added photo %s for %s\n", ui.RenderPass("✓"), photo.ID, photo.Date)
	},
}

var photoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List progress photos",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()
		a := openApp(ctx, false)
		defer a.close()

		photos, err := a.tracker.Photos(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		if len(photos) == 0 {
			fmt.Println(ui.RenderMuted("No photos."))
			return
		}
		for _, p := range photos {
			line := fmt.Sprintf("%s  %s", ui.RenderAccent(p.Date), p.Path)
			if p.Caption != "" {
				line += "  " + ui.RenderMuted(p.Caption)
			}
			fmt.Println(line)
		}
	},
}

func init() {
	photoAddCmd.Flags().String("date", "", "day of the photo (default today)")
	photoAddCmd.Flags().String("caption", "", "caption")

	photoCmd.AddCommand(photoAddCmd)
	photoCmd.AddCommand(photoListCmd)
	rootCmd.AddCommand(photoCmd)
}
