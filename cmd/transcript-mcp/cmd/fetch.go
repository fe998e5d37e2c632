package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/transcript-mcp/pkg/app"
	"github.com/ajitpratap0/transcript-mcp/pkg/config"
	"github.com/ajitpratap0/transcript-mcp/pkg/transcript"
)

var (
	fetchVideoURL  string
	fetchLanguages []string
	fetchBaseURL   string
	fetchLogLevel  string
)

var errTranscriptUnavailable = errors.New("transcript unavailable")

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Print the transcript of one video as JSON",
	Long: `Fetch the transcript of one YouTube video and print its segments as JSON.

Examples:
  transcript-mcp fetch --video-url https://youtu.be/dQw4w9WgXcQ
  transcript-mcp fetch --video-url https://youtu.be/dQw4w9WgXcQ --languages pt-BR,en`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchVideoURL, "video-url", "", "YouTube video URL (required)")
	fetchCmd.Flags().StringSliceVar(&fetchLanguages, "languages", nil, "preferred caption languages in order, e.g. pt-BR,en")
	fetchCmd.Flags().StringVar(&fetchBaseURL, "base-url", transcript.DefaultBaseURL, "YouTube base URL")
	fetchCmd.Flags().StringVar(&fetchLogLevel, "log-level", "warn", "log level for diagnostics on stderr")
	_ = fetchCmd.Flags().MarkHidden("base-url")
	_ = fetchCmd.MarkFlagRequired("video-url")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger, err := app.NewLogger(config.LogConfig{Level: fetchLogLevel, Format: "text"}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	yt := transcript.NewYouTube(
		transcript.WithBaseURL(fetchBaseURL),
		transcript.WithLogger(logger),
	)
	segments := yt.Fetch(cmd.Context(), transcript.Request{
		VideoURL:           fetchVideoURL,
		PreferredLanguages: fetchLanguages,
	})
	if segments == nil {
		return errTranscriptUnavailable
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(segments)
}
