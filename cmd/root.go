package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "ct-secretsd",
	Short: "Local secrets daemon for Claude Throne",
	Long: `ct-secretsd keeps provider API keys in the OS keyring (or an encrypted
file store when no keyring is available), validates them against the
provider, and supervises the local Anthropic-compatible proxy.

The HTTP API listens on 127.0.0.1 only and requires a bearer token.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and exits on error.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		HandleError(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format (json, text)")
}
