package commands

import (
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicelink/internal/config"
	"github.com/teslashibe/go-voicelink/internal/log"
)

var (
	// Global flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "voicelink",
	Short: "Voice assistant server over WebSocket",
	Long: `voicelink - speech recognition, language model and speech synthesis
behind a single WebSocket endpoint.

Each stage can run on the server or be left to the client. The default
configuration uses a local Whisper server, Ollama and Piper.

Examples:
  # Run the server with defaults on :8000
  voicelink serve

  # Run with a config file
  voicelink serve -c voicelink.yaml

  # Ask a running server something
  voicelink talk --text "What's the capital of France?"

  # Send a recording and save the spoken reply
  voicelink talk -f question.wav -o reply.wav`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadConfig loads the configuration and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log.Init(cfg.Logging.Level)
	return cfg, nil
}
