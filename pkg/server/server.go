// Package server exposes sessions over WebSocket and reports health and
// metrics over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/pkg/metrics"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
	"github.com/teslashibe/go-voicelink/pkg/session"
)

// Config configures the server.
type Config struct {
	Addr string

	// Codec is used when the client does not pass ?codec=.
	Codec protocol.Codec

	// MaxMessageBytes caps one inbound frame. Zero means 4 MiB.
	MaxMessageBytes int

	CORSOrigins     string
	ShutdownTimeout time.Duration
	Version         string

	// AccessLog enables the fiber request logger.
	AccessLog bool
}

// Server serves the voicelink endpoints.
type Server struct {
	cfg     Config
	app     *fiber.App
	handler *session.Handler
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// New creates a server over handler. m may be nil.
func New(cfg Config, handler *session.Handler, m *metrics.Metrics, logger *slog.Logger) *Server {
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSON
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 4 << 20
	}
	if cfg.CORSOrigins == "" {
		cfg.CORSOrigins = "*"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Component("server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		handler: handler,
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*conn]struct{}),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "voicelink",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))
	if cfg.AccessLog {
		s.app.Use(fiberlog.New())
	}
	s.registerRoutes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.health)

	api := s.app.Group("/api")
	api.Get("/capabilities", func(c *fiber.Ctx) error {
		return c.JSON(s.handler.Info(false))
	})
	api.Get("/sessions", func(c *fiber.Ctx) error {
		return c.JSON(s.handler.Info(true))
	})

	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	// WebSocket upgrade middleware
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleConn))
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  s.cfg.Version,
		"ready":    s.handler.Ready(),
		"sessions": s.handler.Count(),
	})
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// handleConn runs one session. Frames are read on a separate goroutine so
// that a disconnect cancels the cycle in progress; the session itself
// handles messages strictly in order.
func (s *Server) handleConn(ws *websocket.Conn) {
	codec := s.cfg.Codec
	if name := ws.Query("codec"); name != "" {
		c, err := protocol.CodecFor(name)
		if err != nil {
			bad := newConn(ws, s.cfg.Codec)
			_ = bad.Send(protocol.NewErrorMessage(protocol.CodeProtocol, err.Error()))
			bad.Close(websocket.CloseUnsupportedData, "unknown codec")
			return
		}
		codec = c
	}
	ws.SetReadLimit(int64(s.cfg.MaxMessageBytes))

	c := newConn(ws, codec)
	if !s.track(c) {
		c.Close(websocket.CloseGoingAway, "shutting down")
		return
	}
	defer s.untrack(c)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	sess, err := s.handler.Open(ctx, c)
	if err != nil {
		s.logger.Warn("session rejected", "remote", ws.RemoteAddr().String(), "error", err)
		_ = c.Send(protocol.NewErrorMessage(session.CodeFor(err), err.Error()))
		c.Close(websocket.CloseTryAgainLater, "session unavailable")
		return
	}
	defer s.handler.Close(sess)

	logger := s.logger.With("session_id", sess.ID())
	logger.Debug("connection open", "remote", ws.RemoteAddr().String(), "codec", codec.Name())

	go c.keepalive(sess.Done())

	inbox := make(chan []byte, inboxSize)
	go func() {
		err := c.readLoop(inbox, sess.Done())
		if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logger.Debug("read failed", "error", err)
		}
		cancel()
	}()

	for frame := range inbox {
		if err := sess.HandleRaw(codec, frame); err != nil {
			logger.Debug("transport failed", "error", err)
			break
		}
	}
	c.Close(websocket.CloseNormalClosure, "")

	// The socket is recycled once this handler returns, so wait for the
	// reader to exit.
	for range inbox {
	}
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Run listens on the configured address until ctx ends, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr, "codec", s.cfg.Codec.Name())
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown destroys every session, closes open sockets and stops the HTTP
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.handler.Shutdown()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	s.logger.Info("server shutting down", "connections", len(conns))
	return s.app.ShutdownWithContext(ctx)
}
