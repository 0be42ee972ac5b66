package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/adalundhe/scout/core/watcher"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the screening service and watch backend",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck is one line of `scout doctor` output.
type doctorCheck struct {
	Name string
	Err  error
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, _, client, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := commandContext(cmd)
	checks := []doctorCheck{
		{Name: "service " + client.BaseURL(), Err: client.Health(ctx)},
	}

	_, err = client.FetchConfig(ctx)
	checks = append(checks, doctorCheck{Name: "configuration", Err: err})

	backend, err := watcher.NewBackend(cfg.Watch.Backend, watcher.BackendOptions{})
	name := "watch backend " + cfg.Watch.Backend
	if err == nil {
		name = "watch backend " + backend.Name()
	}
	checks = append(checks, doctorCheck{Name: name, Err: err})

	return reportChecks(cmd.OutOrStdout(), checks)
}

func reportChecks(w io.Writer, checks []doctorCheck) error {
	failed := 0
	for _, c := range checks {
		if c.Err != nil {
			failed++
			fmt.Fprintf(w, "%s✗%s %s: %v\n", colorRed, colorReset, c.Name, c.Err)
			continue
		}
		fmt.Fprintf(w, "%s✓%s %s\n", colorGreen, colorReset, c.Name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	return nil
}
