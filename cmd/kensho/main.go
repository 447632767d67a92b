// Command kensho is an offline-first habit tracker that syncs across devices.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cedrickato-personal/kensho-app/internal/config"
	"github.com/cedrickato-personal/kensho-app/internal/logging"
)

var (
	cfgFile string
	verbose bool

	cfg      *config.Config
	logger   *log.Logger
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "kensho",
	Short: "Offline-first habit tracker with multi-device sync",
	Long: `kensho tracks daily habits in a local database that works without a
network. When signed in to a kensho server, every edit is pushed to the
server in the background and edits from your other devices are merged in.

Conflicts are settled per day: the most recently edited version of a day
wins as a whole. Weekly reviews are merged field by field.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, closeLog, err = logging.New(logging.Config{
		File:    cfg.LogFile(),
		Level:   cfg.Log.Level,
		Verbose: verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger.Debug("command started", "cmd", cmd.CommandPath(), "config", configPath())
	return nil
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $KENSHO_HOME/config.toml or ~/.kensho/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "track", Title: "Tracking:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

// fatalf prints an error and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
