package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/pkg/audio"
	"github.com/teslashibe/go-voicelink/pkg/client"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
)

var (
	talkURL     string
	talkText    string
	talkInput   string
	talkOutput  string
	talkCodec   string
	talkTimeout time.Duration
	talkClear   bool
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Send a WAV file or text to a server and print the reply",
	Long: `Send one utterance to a running voicelink server.

With -f the WAV file (16-bit mono PCM) is resampled to 16 kHz, streamed as
audio messages and ended with end_audio. With --text the text is sent
directly. The transcript and response are printed; -o writes the spoken
reply as a WAV file.

Examples:
  voicelink talk --text "Tell me a joke"
  voicelink talk -f question.wav -o reply.wav
  voicelink talk --url ws://gpu-box:8000/ws --codec msgpack --text hi`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (talkText == "") == (talkInput == "") {
			return fmt.Errorf("exactly one of --text or -f is required")
		}
		codec, err := protocol.CodecFor(talkCodec)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), talkTimeout)
		defer cancel()

		c, err := client.Dial(ctx, talkURL, client.WithCodec(codec), client.WithLogger(log.Component("client")))
		if err != nil {
			return err
		}
		defer c.Close()

		if talkClear {
			if err := c.ClearHistory(); err != nil {
				return err
			}
		}

		var reply *client.Reply
		if talkText != "" {
			reply, err = c.Ask(ctx, talkText)
		} else {
			var samples []int16
			var rate int
			samples, rate, err = readWAV(talkInput)
			if err != nil {
				return err
			}
			reply, err = c.Talk(ctx, samples, rate)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if reply.Transcript != "" {
			fmt.Fprintf(out, "you:       %s\n", reply.Transcript)
		}
		if reply.Text != "" {
			fmt.Fprintf(out, "assistant: %s\n", reply.Text)
		}
		fmt.Fprintf(out, "latency:   %s (%d chunks)\n", reply.Latency.Round(time.Millisecond), reply.Chunks)

		if len(reply.Audio) == 0 {
			return nil
		}
		fmt.Fprintf(out, "audio:     %s at %d Hz\n", audio.Duration(len(reply.Audio), reply.SampleRate).Round(time.Millisecond), reply.SampleRate)
		if talkOutput != "" {
			data, err := audio.EncodeWAV(reply.Audio, reply.SampleRate)
			if err != nil {
				return err
			}
			if err := os.WriteFile(talkOutput, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", talkOutput, err)
			}
			fmt.Fprintf(out, "saved:     %s\n", talkOutput)
		}
		return nil
	},
}

func init() {
	talkCmd.Flags().StringVarP(&talkURL, "url", "u", "ws://localhost:8000/ws", "server URL")
	talkCmd.Flags().StringVarP(&talkText, "text", "t", "", "text to send")
	talkCmd.Flags().StringVarP(&talkInput, "file", "f", "", "WAV file to send")
	talkCmd.Flags().StringVarP(&talkOutput, "output", "o", "", "write the spoken reply to this WAV file")
	talkCmd.Flags().StringVar(&talkCodec, "codec", "json", "wire codec: json or msgpack")
	talkCmd.Flags().DurationVar(&talkTimeout, "timeout", 60*time.Second, "overall timeout")
	talkCmd.Flags().BoolVar(&talkClear, "clear", false, "clear the conversation first")
	rootCmd.AddCommand(talkCmd)
}

func readWAV(path string) ([]int16, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return samples, rate, nil
}
