// Package logging builds the kensho logger: charmbracelet/log over a
// rotating file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	// File is the log file path. Rotated at 10 MB.
	File string
	// Level is debug, info, warn or error.
	Level string
	// Verbose tees output to stderr and forces debug level.
	Verbose bool
}

// New creates the logger and returns a func that closes the file.
func New(cfg Config) (*log.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Verbose {
		level = log.DebugLevel
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	var writer io.Writer = fileWriter
	if cfg.Verbose {
		writer = io.MultiWriter(os.Stderr, fileWriter)
	}

	logger := log.NewWithOptions(writer, log.Options{
		ReportCaller:    cfg.Verbose,
		ReportTimestamp: true,
		Level:           level,
		Prefix:          "kensho",
	})
	log.SetDefault(logger)
	return logger, fileWriter.Close, nil
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(s string) (log.Level, error) {
	if strings.TrimSpace(s) == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(strings.ToLower(s))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Discard returns a logger that writes nothing.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
