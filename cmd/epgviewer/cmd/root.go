// Package cmd implements the CLI commands for epgviewer.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/epgviewer/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "epgviewer",
	Short:   "XMLTV EPG ingest, merge, and export service",
	Version: version.Short(),
	Long: `epgviewer mirrors upstream XMLTV feeds and M3U playlists, merges them
into a single schedule, and serves the result as a browsable API and as
XMLTV export downloads for media servers like Plex, Jellyfin, and Emby.

It supports per-channel source mappings with time shifting, history
backfill from mirror snapshots, and prewarmed export caches.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Note: flags are NOT bound to viper here. Serve checks Changed() and
	// only then overrides config/env values, preserving the priority:
	// CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}
