// Package cmd provides the CLI commands for transcript-mcp.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "transcript-mcp",
	Short: "YouTube transcript MCP server",
	Long: `transcript-mcp exposes a single MCP tool, transcript_yt, that returns the
caption segments of a YouTube video.

Clients connect to /mcp either with a long-lived event stream (GET) or with
request-response sessions opened by an initialize POST.

Configuration:
  Config is loaded from transcript-mcp.yaml in the current directory,
  $HOME/.transcript-mcp/, or /etc/transcript-mcp/.

  Environment variables override config values with the TRANSCRIPT_MCP_ prefix.
  Example: TRANSCRIPT_MCP_MAX_CLIENTS=50`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./transcript-mcp.yaml)")
}
