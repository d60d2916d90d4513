// Package web serves the session dashboard: a small JSON API to inspect
// and drive the live session plus websocket feeds for state and captions.
package web

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-live/pkg/hub"
	"github.com/teslashibe/go-live/pkg/session"
	"github.com/teslashibe/go-live/pkg/tools"
	"github.com/teslashibe/go-live/pkg/transcript"
)

// Session is the part of session.Controller the dashboard uses.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	SendText(ctx context.Context, text string) error
	State() session.State
	Subscribe() (<-chan session.State, func())
	Stats() session.Stats
	Transcript() transcript.State
	SubscribeTranscript() (<-chan transcript.State, func())
	Invocations() []tools.Invocation
	Tools() []tools.Tool
}

// Server is the web dashboard server.
type Server struct {
	app    *fiber.App
	addr   string
	sess   Session
	logger *slog.Logger

	// Hubs for websocket broadcast
	statusHub  *hub.Hub
	captionHub *hub.Hub

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a dashboard for sess listening on addr (":8080").
func NewServer(addr string, sess Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		sess:   sess,
		logger: logger.With("component", "web"),
	}
	s.statusHub = hub.New("status", logger, func() (hub.Message, bool) {
		msg, err := hub.JSON(s.sess.State())
		return msg, err == nil
	})
	s.captionHub = hub.New("captions", logger, func() (hub.Message, bool) {
		msg, err := hub.JSON(s.sess.Transcript())
		return msg, err == nil
	})

	app := fiber.New(fiber.Config{
		AppName:               "go-live dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Get("/tools", s.handleTools)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/session/text", s.handleText)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/captions", websocket.New(s.serveHub(s.captionHub)))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs and feed forwarders, then serves until Shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fiber.ErrServiceUnavailable
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.startFeeds(ctx)
	s.mu.Unlock()

	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

func (s *Server) startFeeds(ctx context.Context) {
	s.wg.Add(4)
	go func() {
		defer s.wg.Done()
		s.statusHub.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.captionHub.Run(ctx)
	}()

	states, stopStates := s.sess.Subscribe()
	go func() {
		defer s.wg.Done()
		defer stopStates()
		forward(ctx, states, s.statusHub, s.logger)
	}()

	captions, stopCaptions := s.sess.SubscribeTranscript()
	go func() {
		defer s.wg.Done()
		defer stopCaptions()
		forward(ctx, captions, s.captionHub, s.logger)
	}()
}

func forward[T any](ctx context.Context, in <-chan T, h *hub.Hub, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-in:
			if !ok {
				return
			}
			if err := h.BroadcastJSON(v); err != nil {
				logger.Warn("broadcast encode failed", "error", err)
			}
		}
	}
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		client := hub.NewClient(h, conn)
		if client == nil {
			conn.Close()
			return
		}
		client.Run()
	}
}

// Shutdown stops the feeds and the HTTP server.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	err := s.app.Shutdown()
	s.wg.Wait()
	return err
}
