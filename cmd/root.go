// Package cmd provides the scout command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/adalundhe/scout/core/config"
	"github.com/adalundhe/scout/core/remote"
	"github.com/adalundhe/scout/core/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Global Flags
// =============================================================================

var (
	configPath string
	apiHost    string
	apiPort    int
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "scout",
	Short: "Scout - file system observation agent",
	Long: `Scout watches the directories configured in the local screening service,
classifies the files it finds there and delivers their metadata in batches.

Examples:
  scout monitor                 # Run the agent
  scout scan --since 7d         # List recent documents and media
  scout config                  # Show the fetched configuration
  scout doctor                  # Check the screening service`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to an extra config file")
	rootCmd.PersistentFlags().StringVar(&apiHost, "api-host", "", "Screening service host (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiPort, "api-port", 0, "Screening service port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug,info,warn,error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
}

func Execute() error {
	return rootCmd.Execute()
}

// =============================================================================
// Shared Setup
// =============================================================================

// loadConfig layers the config files and environment, then applies the
// global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		return nil, err
	}

	mgr := config.NewManager(dirs, configPath)
	if err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := mgr.Get()
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("api-host") {
		cfg.API.Host = apiHost
	}
	if flags.Changed("api-port") {
		cfg.API.Port = apiPort
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-json") {
		cfg.Logging.JSON = logJSON
	}
}

// newLogger builds the process logger. Logs go to stderr and, when
// logging.file is set, to a size-rotated file as well. The returned closer
// releases the file.
func newLogger(cfg config.LoggingConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	out := stderr
	if cfg.File != "" {
		if err := storage.EnsureDir(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("log dir: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = io.MultiWriter(stderr, rotator)
		closer = rotator
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newClient(cfg *config.Config) (*remote.Client, error) {
	return remote.NewClient(remote.Config{
		BaseURL: cfg.API.BaseURL(),
		Timeout: cfg.API.Timeout,
	})
}

// setup loads the config and builds the logger and service client every
// subcommand needs.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, *remote.Client, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger, closer, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	cleanup := func() { _ = closer.Close() }

	client, err := newClient(cfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, err
	}
	return cfg, logger, client, cleanup, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
