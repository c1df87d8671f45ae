// Package remote is the cobra CLI for the remote execution core daemon.
package remote

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "rec",
	Short: "Remote execution core: sessions, one-off commands, and file I/O over HTTP",
	Long: `rec runs a small daemon that drives interactive shell sessions,
one-off subprocess execution, and file reads/writes behind a bearer-token
authenticated HTTP API.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute runs the CLI's root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}
