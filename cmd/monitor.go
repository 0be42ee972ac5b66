package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adalundhe/scout/core/monitor"
	"github.com/adalundhe/scout/core/storage"
)

var (
	monitorMetricsAddr string
	monitorEventsAddr  string
	monitorBackend     string
	monitorNoAnalysis  bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the file monitor",
	Long: `Fetch the configuration from the screening service, watch every authorised
directory, scan them once and stream classified file metadata until interrupted.

Startup fails if no configuration can be fetched within the configured
number of attempts.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	monitorCmd.Flags().StringVar(&monitorEventsAddr, "events-addr", "", "Serve the websocket event stream on this address")
	monitorCmd.Flags().StringVar(&monitorBackend, "backend", "", "Watch backend (auto,fsnotify,fsevents)")
	monitorCmd.Flags().BoolVar(&monitorNoAnalysis, "no-analysis", false, "Do not request analysis after the initial scan")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = monitorMetricsAddr
	}
	if flags.Changed("events-addr") {
		cfg.Events.Addr = monitorEventsAddr
	}
	if flags.Changed("backend") {
		cfg.Watch.Backend = monitorBackend
	}
	if monitorNoAnalysis {
		cfg.Scan.NotifyAnalysis = false
	}
	if cfg.Logging.File == "" {
		if dirs, err := storage.ResolveDirs(); err == nil {
			cfg.Logging.File = dirs.DefaultLogFile()
		}
	}

	logger, closer, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	agent, err := monitor.New(monitor.Options{
		Config: cfg,
		Remote: client,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return agent.Run(ctx)
}
