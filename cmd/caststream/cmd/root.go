// Package cmd implements the CLI commands for caststream.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caststream/caststream/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "caststream",
	Short:   "On-demand HLS transcoding for cast receivers",
	Version: version.Short(),
	Long: `caststream turns remote or locally-synced video files into HLS streams
a strict cast receiver can play, transcoding on demand with FFmpeg where
the source codecs require it and remuxing where they do not.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ~/.config/caststream, /etc/caststream)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}
