package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose   bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "voiced",
	Short: "Voice-cloning streaming TTS server and client",
	Long: `voiced - a voice-cloning text-to-speech server.

Users enroll once with a short reference recording; afterwards any text
can be synthesized in their voice, streamed sentence by sentence over a
websocket. Voice signatures are tiered across memory, local disk and an
optional S3 bucket so any instance can serve any enrolled user.

Examples:
  # Run the server
  voiced serve --config voiced.yaml

  # Enroll a voice and speak with it
  voiced enroll alice reference.wav
  voiced speak alice "Hello there." -o hello.f32
  voiced delete alice`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://127.0.0.1:8000", "server base URL for client commands")
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
