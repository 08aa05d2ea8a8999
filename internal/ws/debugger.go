package ws

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/devpack/internal/telemetry"
)

var disconnectedMessage = []byte(`{"method":"$disconnected"}`)

// DebuggerServer pairs one remote debugger with one app. Frames are relayed
// verbatim between the two.
type DebuggerServer struct {
	*registry

	mu              sync.Mutex
	debugger        *client
	debuggerJoining bool
	app             *client
}

// NewDebuggerServer creates the legacy debugger bridge.
func NewDebuggerServer(logger *slog.Logger, metrics *telemetry.Metrics) *DebuggerServer {
	return &DebuggerServer{registry: newRegistry("Debugger", []string{"/debugger-proxy"}, logger, metrics)}
}

// Upgrade implements Server. A second debugger is refused with 409 before
// the handshake; a missing role is closed with 1011.
func (s *DebuggerServer) Upgrade(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("role") {
	case "debugger":
		s.mu.Lock()
		busy := s.debugger != nil || s.debuggerJoining
		if !busy {
			s.debuggerJoining = true
		}
		s.mu.Unlock()
		if busy {
			s.logger.Warn("another debugger is already connected")
			http.Error(w, "Another debugger is already connected", http.StatusConflict)
			return
		}
		joined := false
		s.serve(w, r, func(c *client) {
			joined = true
			s.onDebuggerOpen(c)
		}, s.fromDebugger)
		s.mu.Lock()
		s.debuggerJoining = false
		s.mu.Unlock()
		if joined {
			s.onDebuggerClose()
		}

	case "client":
		var self *client
		s.serve(w, r, func(c *client) {
			self = c
			s.onAppOpen(c)
		}, s.fromApp)
		if self != nil {
			s.onAppClose(self)
		}

	default:
		s.serve(w, r, func(c *client) {
			c.close(websocket.CloseInternalServerErr, "Missing role param")
		}, nil)
	}
}

func (s *DebuggerServer) onDebuggerOpen(c *client) {
	s.mu.Lock()
	s.debugger = c
	s.debuggerJoining = false
	s.mu.Unlock()
	s.logger.Info("remote debugger connected", "clientId", c.id)
}

func (s *DebuggerServer) onDebuggerClose() {
	s.mu.Lock()
	s.debugger = nil
	app := s.app
	s.app = nil
	s.mu.Unlock()
	s.logger.Info("remote debugger disconnected")
	if app != nil {
		app.close(websocket.CloseInternalServerErr, "Debugger was disconnected")
	}
}

func (s *DebuggerServer) onAppOpen(c *client) {
	s.mu.Lock()
	prev := s.app
	s.app = c
	s.mu.Unlock()
	if prev != nil {
		prev.close(websocket.CloseInternalServerErr, "Another client is connected")
	}
	s.logger.Info("debugger client connected", "clientId", c.id)
}

// onAppClose notifies the debugger unless the app was replaced or dropped
// by the debugger leaving.
func (s *DebuggerServer) onAppClose(c *client) {
	s.mu.Lock()
	if s.app != c {
		s.mu.Unlock()
		return
	}
	s.app = nil
	debugger := s.debugger
	s.mu.Unlock()
	s.logger.Info("debugger client disconnected", "clientId", c.id)
	if debugger != nil {
		_ = debugger.send(disconnectedMessage)
	}
}

func (s *DebuggerServer) fromDebugger(_ *client, data []byte) {
	s.mu.Lock()
	app := s.app
	s.mu.Unlock()
	s.relay(app, data)
}

func (s *DebuggerServer) fromApp(c *client, data []byte) {
	s.mu.Lock()
	debugger := s.debugger
	current := s.app == c
	s.mu.Unlock()
	if current {
		s.relay(debugger, data)
	}
}

func (s *DebuggerServer) relay(to *client, data []byte) {
	if to == nil {
		return
	}
	if err := to.send(data); err != nil {
		s.logger.Warn("failed to relay debugger frame", "clientId", to.id, "err", err)
	}
}
