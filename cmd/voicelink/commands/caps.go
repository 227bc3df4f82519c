package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicelink/internal/config"
	"github.com/teslashibe/go-voicelink/pkg/client"
	"github.com/teslashibe/go-voicelink/pkg/pipeline"
	"github.com/teslashibe/go-voicelink/pkg/session"
)

var (
	capsURL   string
	capsLocal bool
	capsPeer  pipeline.Capabilities
)

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Show the stage plan for a server and a client",
	Long: `Show where each stage runs for a server and a client with the given
capabilities.

By default the server is asked over WebSocket. With --local the server
capabilities are derived from the configuration instead.

Examples:
  # A client that does its own speech recognition
  voicelink caps --stt

  # What would this config serve?
  voicelink caps --local -c voicelink.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var self pipeline.Capabilities
		if capsLocal {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			self = configCapabilities(cfg)
		} else {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c, err := client.Dial(ctx, capsURL)
			if err != nil {
				return err
			}
			defer c.Close()
			self, err = c.ServerCapabilities(ctx)
			if err != nil {
				return err
			}
		}

		plan, planErr := session.Plan(self, &capsPeer)
		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Server pipeline.Capabilities `json:"server"`
			Client pipeline.Capabilities `json:"client"`
			Plan   session.StagePlan     `json:"plan"`
		}{self, capsPeer, plan}); err != nil {
			return err
		}
		if planErr != nil {
			return fmt.Errorf("plan incomplete: %w", planErr)
		}
		return nil
	},
}

func init() {
	capsCmd.Flags().StringVarP(&capsURL, "url", "u", "ws://localhost:8000/ws", "server URL")
	capsCmd.Flags().BoolVar(&capsLocal, "local", false, "derive server capabilities from the configuration")
	capsCmd.Flags().BoolVar(&capsPeer.HasSTT, "stt", false, "client performs speech recognition")
	capsCmd.Flags().BoolVar(&capsPeer.HasLLM, "llm", false, "client performs generation")
	capsCmd.Flags().BoolVar(&capsPeer.HasTTS, "tts", false, "client performs speech synthesis")
	rootCmd.AddCommand(capsCmd)
}

func configCapabilities(cfg *config.Config) pipeline.Capabilities {
	return pipeline.Capabilities{
		HasSTT: cfg.STT.Engine != config.EngineNone,
		HasLLM: cfg.LLM.Engine != config.EngineNone,
		HasTTS: cfg.TTS.Engine != config.EngineNone,
	}
}
