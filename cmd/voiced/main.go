// Package main is the entry point for the voiced CLI.
//
// Usage:
//
//	voiced [flags] <command> [args]
//
// Commands:
//
//	serve    - Run the voice-cloning TTS server
//	enroll   - Enroll a user's voice from a reference recording
//	speak    - Synthesize speech in an enrolled user's voice
//	delete   - Delete an enrolled voice
//	health   - Query a running server's health
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/eumlab/voiced/cmd/voiced/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
