// Package web provides the Deskman dashboard: live status, a manual
// conversation trigger, manual tool calls and a Prometheus endpoint.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-deskman/pkg/assistant"
	"github.com/teslashibe/go-deskman/pkg/hub"
	"github.com/teslashibe/go-deskman/pkg/realtime"
	"github.com/teslashibe/go-deskman/pkg/robot"
)

const maxLogs = 500

// Assistant is the orchestrator as seen by the dashboard.
type Assistant interface {
	RequestConversation() error
	Snapshot() assistant.Snapshot
}

// Tools lists and runs actuator functions.
type Tools interface {
	Tools() []realtime.Tool
	Dispatch(name, arguments string) (string, error)
}

// FaceSource publishes face state.
type FaceSource interface {
	State() robot.FaceState
	Subscribe() (updates <-chan robot.FaceState, cancel func())
}

// LogEntry represents a log line for the dashboard.
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // state, speech, user, tool, error
	Message string `json:"message"`
}

// Options configures a Server. Every collaborator is optional; routes
// whose collaborator is missing answer 503.
type Options struct {
	Addr      string
	Assistant Assistant
	Tools     Tools
	Face      FaceSource
	Metrics   http.Handler
	StaticDir string
	Logger    *slog.Logger
}

// Server is the web dashboard server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	assistant Assistant
	tools     Tools
	face      FaceSource

	logs   []LogEntry
	logsMu sync.RWMutex

	// last is the previous snapshot seen by PublishStatus.
	last   assistant.Snapshot
	lastMu sync.Mutex

	statusHub *hub.Hub
	faceHub   *hub.Hub
	logHub    *hub.Hub
}

// NewServer creates the dashboard and registers its routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:      opts.Addr,
		logger:    logger.With("component", "web"),
		assistant: opts.Assistant,
		tools:     opts.Tools,
		face:      opts.Face,
		logs:      make([]LogEntry, 0, maxLogs),
		statusHub: hub.New("status", logger),
		faceHub:   hub.New("face", logger),
		logHub:    hub.New("logs", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Deskman Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/conversation", s.handleStartConversation)
	api.Get("/tools", s.handleListTools)
	api.Post("/tools/:name", s.handleTriggerTool)
	api.Get("/logs", s.handleGetLogs)

	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/face", websocket.New(s.handleFaceWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hubs and serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHubs := context.WithCancel(ctx)
	defer stopHubs()

	var wg sync.WaitGroup
	for _, h := range []*hub.Hub{s.statusHub, s.faceHub, s.logHub} {
		wg.Add(1)
		go func(h *hub.Hub) {
			defer wg.Done()
			h.Run(hubCtx)
		}(h)
	}
	if s.face != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.forwardFace(hubCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()
	s.logger.Info("dashboard listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		// Close websocket clients first so shutdown is not held open.
		stopHubs()
		wg.Wait()
		err := s.app.ShutdownWithTimeout(5 * time.Second)
		<-errCh
		return err
	case err := <-errCh:
		stopHubs()
		wg.Wait()
		return fmt.Errorf("web: serve: %w", err)
	}
}

func (s *Server) forwardFace(ctx context.Context) {
	updates, cancel := s.face.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			s.faceHub.BroadcastJSON(st)
		}
	}
}

// PublishStatus broadcasts a snapshot and logs what changed since the last
// one. It is meant as the assistant's observer and does not block.
func (s *Server) PublishStatus(snap assistant.Snapshot) {
	s.lastMu.Lock()
	prev := s.last
	s.last = snap
	s.lastMu.Unlock()

	if snap.State != prev.State {
		s.AddLog("state", prev.State.String()+" → "+snap.State.String())
	}
	if snap.LastUserTranscript != "" && snap.LastUserTranscript != prev.LastUserTranscript {
		s.AddLog("user", snap.LastUserTranscript)
	}
	if snap.LastTranscript != "" && snap.LastTranscript != prev.LastTranscript {
		s.AddLog("speech", snap.LastTranscript)
	}
	if snap.LastError != "" && snap.LastError != prev.LastError {
		s.AddLog("error", snap.LastError)
	}

	if err := s.statusHub.BroadcastJSON(snap); err != nil {
		s.logger.Warn("encode status", "error", err)
	}
}

// AddLog adds a log entry and broadcasts it to clients.
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.BroadcastJSON(entry)
}

// Logs returns a copy of the recent log entries.
func (s *Server) Logs() []LogEntry {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}
