package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adalundhe/scout/core/monitor"
)

var cleanCmd = &cobra.Command{
	Use:   "clean <path>",
	Short: "Drop the service's records under a directory",
	Long: `Ask the screening service to delete every record under path. The call is
retried with backoff up to cleanup.max_attempts times.`,
	Args: cobra.ExactArgs(1),
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, logger, client, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	deleted, err := monitor.CleanPath(commandContext(cmd), client, path, monitor.CleanupPolicy(cfg.Cleanup), logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%sRemoved %d records under %s%s\n", colorGreen, deleted, path, colorReset)
	return nil
}
