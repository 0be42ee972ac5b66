package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/adalundhe/scout/core/configcache"
	"github.com/adalundhe/scout/core/model"
)

var configJSON bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the configuration fetched from the screening service",
	Long: `Fetch the rule configuration once and print the watch set, blacklist,
categories and filter rules scout would run with.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var bundlesCmd = &cobra.Command{
	Use:   "bundles",
	Short: "List the OS bundle extensions",
	Long: `Print the bundle extensions used to skip application and library packages.
The built-in list is shown when the service cannot supply one.`,
	Args: cobra.NoArgs,
	RunE: runBundles,
}

func init() {
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(bundlesCmd)

	configCmd.Flags().BoolVar(&configJSON, "json", false, "Output the raw configuration as JSON")
	bundlesCmd.Flags().BoolVar(&configJSON, "json", false, "Output as JSON")
}

// configSummary is the JSON form of `scout config`.
type configSummary struct {
	FullDiskAccess bool     `json:"full_disk_access"`
	WatchSet       []string `json:"watch_set"`
	Blacklist      []string `json:"blacklist"`
	Categories     int      `json:"categories"`
	ExtensionMaps  int      `json:"extension_maps"`
	EnabledRules   int      `json:"enabled_rules"`
	FetchedAt      string   `json:"fetched_at"`
}

func summarize(snap *model.Configuration) configSummary {
	return configSummary{
		FullDiskAccess: snap.FullDiskAccess,
		WatchSet:       snap.WatchSet(),
		Blacklist:      snap.Blacklist(),
		Categories:     len(snap.Categories),
		ExtensionMaps:  len(snap.ExtensionMaps),
		EnabledRules:   len(snap.EnabledRules()),
		FetchedAt:      snap.FetchedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, logger, client, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cache := configcache.New(client, configcache.Options{BundleTTL: cfg.Bundles.TTL, Logger: logger})
	snap, err := cache.Fetch(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("fetch configuration: %w", err)
	}

	if configJSON {
		return writeJSON(cmd.OutOrStdout(), snap)
	}
	writeConfigSummary(cmd.OutOrStdout(), client.BaseURL(), summarize(snap))
	return nil
}

func writeConfigSummary(w io.Writer, source string, s configSummary) {
	fmt.Fprintf(w, "%s%sConfiguration%s %s(%s)%s\n", colorBold, colorCyan, colorReset, colorGray, source, colorReset)
	fmt.Fprintf(w, "%sFull disk access:%s %v\n", colorGray, colorReset, s.FullDiskAccess)
	fmt.Fprintf(w, "%sCategories:%s       %d\n", colorGray, colorReset, s.Categories)
	fmt.Fprintf(w, "%sExtension maps:%s   %d\n", colorGray, colorReset, s.ExtensionMaps)
	fmt.Fprintf(w, "%sEnabled rules:%s    %d\n", colorGray, colorReset, s.EnabledRules)

	fmt.Fprintf(w, "\n%sWatched (%d)%s\n", colorBold, len(s.WatchSet), colorReset)
	for _, dir := range s.WatchSet {
		fmt.Fprintf(w, "  %s+%s %s\n", colorGreen, colorReset, dir)
	}
	fmt.Fprintf(w, "\n%sBlacklisted (%d)%s\n", colorBold, len(s.Blacklist), colorReset)
	for _, dir := range s.Blacklist {
		fmt.Fprintf(w, "  %s-%s %s\n", colorRed, colorReset, dir)
	}
}

func runBundles(cmd *cobra.Command, _ []string) error {
	cfg, logger, client, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cache := configcache.New(client, configcache.Options{BundleTTL: cfg.Bundles.TTL, Logger: logger})
	exts := cache.BundleExtensions(commandContext(cmd))

	if configJSON {
		return writeJSON(cmd.OutOrStdout(), exts)
	}
	for _, ext := range exts {
		fmt.Fprintln(cmd.OutOrStdout(), ext)
	}
	return nil
}
