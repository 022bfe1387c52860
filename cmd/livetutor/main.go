// Command livetutor is a terminal voice client for live tutoring sessions.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "livetutor",
	Short: "Talk to a live tutoring model from the terminal",
	Long: `livetutor streams your microphone to a live audio model and plays its
spoken answers back gaplessly. Transcripts of both sides are printed as the
conversation goes, and typed lines are sent as text turns.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
