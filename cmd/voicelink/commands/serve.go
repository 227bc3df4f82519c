package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicelink/internal/engines"
	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/pkg/metrics"
	"github.com/teslashibe/go-voicelink/pkg/pipeline"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
	"github.com/teslashibe/go-voicelink/pkg/server"
	"github.com/teslashibe/go-voicelink/pkg/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket server",
	Long: `Run the voicelink server.

Endpoints:
  /ws                 WebSocket sessions (?codec=json|msgpack)
  /health             liveness and readiness
  /api/capabilities   stages performed by this server
  /api/sessions       open sessions
  /metrics            Prometheus metrics

Engines are initialized on startup. A failing engine does not stop the
server; initialization is retried when the next session opens.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Host, cfg.Server.Port, err = splitAddr(serveAddr)
			if err != nil {
				return err
			}
		}
		logger := log.L()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		set, err := engines.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer set.Close()

		m := metrics.New()
		opts := append([]pipeline.Option{}, set.Options...)
		opts = append(opts, pipeline.WithObserver(m), pipeline.WithLogger(log.Component("pipeline")))

		handler := session.NewHandler(session.HandlerConfig{
			Slots:           set.Slots,
			PipelineOptions: opts,
			Shared:          cfg.Pipeline.Shared,
			CycleTimeout:    cfg.Server.CycleTimeout,
			MaxSessions:     cfg.Server.MaxSessions,
			Observer:        m,
			Logger:          log.Component("session"),
		})
		if err := handler.Initialize(ctx); err != nil {
			logger.Warn("engines not ready, will retry per session", "error", err)
		}

		codec, err := protocol.CodecFor(cfg.Server.Codec)
		if err != nil {
			return err
		}
		srv := server.New(server.Config{
			Addr:            cfg.Server.Addr(),
			Codec:           codec,
			MaxMessageBytes: cfg.Server.MaxMessageBytes,
			CORSOrigins:     cfg.Server.CORSOrigins,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Version:         Version,
			AccessLog:       strings.EqualFold(cfg.Logging.Level, "debug"),
		}, handler, m, log.Component("server"))

		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "listen address, overrides server.host and server.port")
	rootCmd.AddCommand(serveCmd)
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid address %q: bad port", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}
