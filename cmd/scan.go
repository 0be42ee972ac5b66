package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/adalundhe/scout/core/classify"
	"github.com/adalundhe/scout/core/configcache"
	"github.com/adalundhe/scout/core/model"
	"github.com/adalundhe/scout/core/scan"
)

var (
	scanSince string
	scanType  string
	scanLimit int
	scanJSON  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List files in the monitored directories",
	Long: `Walk the monitored directories once and list whitelisted files, newest
filters first. Nothing is delivered to the screening service.

Examples:
  scout scan                          # Everything, up to the limit
  scout scan --since today            # Modified or created today
  scout scan --since 7d --type image  # Images from the last week
  scout scan --json                   # Machine readable output`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanSince, "since", "all", "Time range (all,today,7d,30d)")
	scanCmd.Flags().StringVar(&scanType, "type", "all", "File type (all,document,image,audio-video,archive)")
	scanCmd.Flags().IntVar(&scanLimit, "limit", scan.DefaultQueryLimit, "Maximum files to list")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output as JSON")
}

func runScan(cmd *cobra.Command, _ []string) error {
	filter, err := scanFilter()
	if err != nil {
		return err
	}

	cfg, logger, client, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := commandContext(cmd)
	cache := configcache.New(client, configcache.Options{BundleTTL: cfg.Bundles.TTL, Logger: logger})
	snap, err := cache.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch configuration: %w", err)
	}

	ignore, err := classify.CompileIgnoreSet(cfg.Classify.IgnoreGlobs)
	if err != nil {
		return err
	}
	engine, err := classify.New(classify.Options{
		Bundles: cache,
		Ignore:  ignore,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	driver := scan.NewDriver(engine, &model.MonitorStats{}, logger)
	files, err := driver.Query(ctx, snap, filter)
	if err != nil {
		return err
	}

	if scanJSON {
		return writeJSON(cmd.OutOrStdout(), files)
	}
	return writeFileTable(cmd.OutOrStdout(), files, snap)
}

func scanFilter() (scan.Filter, error) {
	rng, err := scan.ParseTimeRange(scanSince)
	if err != nil {
		return scan.Filter{}, err
	}
	typ, err := scan.ParseFileType(scanType)
	if err != nil {
		return scan.Filter{}, err
	}
	return scan.Filter{Range: rng, Type: typ, Limit: scanLimit}, nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeFileTable(w io.Writer, files []scan.FileInfo, snap *model.Configuration) error {
	if len(files) == 0 {
		fmt.Fprintf(w, "%sNo files found.%s\n", colorYellow, colorReset)
		return nil
	}

	for _, f := range files {
		category := "-"
		if f.CategoryID != nil {
			if cat, ok := snap.Category(*f.CategoryID); ok {
				category = cat.Name
			}
		}
		fmt.Fprintf(w, "%s%-12s%s %10s  %s  %s\n",
			colorCyan, category, colorReset,
			humanize.IBytes(uint64(max(f.FileSize, 0))),
			f.ModifiedTime.Local().Format(time.DateTime),
			f.FilePath)
	}

	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%d files\n", len(files))
	return nil
}
