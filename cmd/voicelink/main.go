// Package main is the voicelink server and client CLI.
//
// Usage:
//
//	voicelink [flags] <command> [args]
//
// Commands:
//
//	serve    - Run the WebSocket server
//	talk     - Send a WAV file or text to a server and print the reply
//	caps     - Show the stage plan for a server and a client
//	config   - Print the effective configuration
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/teslashibe/go-voicelink/cmd/voicelink/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
