package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/vango-dev/devpack/internal/reporter"
	"github.com/vango-dev/devpack/internal/telemetry"
)

// Command is sent by dev tools on /events to be re-broadcast to the apps.
type Command struct {
	Version int             `json:"version"`
	Type    string          `json:"type"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// EventMessage is a server event delivered to dev tools.
type EventMessage struct {
	Type  string `json:"type,omitempty"`
	Level string `json:"level,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

var localOrigin = regexp.MustCompile(`^(https?://localhost|https?://127\.0\.0\.1|file://)`)

// EventsServer accepts commands from dev tools and forwards them to the
// apps through the MessageServer. It is also a reporter.Sink that relays
// app console output to the tools.
type EventsServer struct {
	*registry

	messages *MessageServer
}

// NewEventsServer creates the events server.
func NewEventsServer(messages *MessageServer, logger *slog.Logger, metrics *telemetry.Metrics) *EventsServer {
	return &EventsServer{
		registry: newRegistry("Events", []string{"/events"}, logger, metrics),
		messages: messages,
	}
}

// Upgrade implements Server. Only local origins are accepted.
func (s *EventsServer) Upgrade(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !localOrigin.MatchString(origin) {
		s.logger.Warn("rejected events client", "origin", origin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	s.serve(w, r, nil, s.handle)
}

func (s *EventsServer) handle(c *client, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.logger.Error("failed to parse the message as JSON", "clientId", c.id, "err", err)
		return
	}
	if cmd.Version != ProtocolVersion {
		s.logger.Error("received message had wrong protocol version", "clientId", c.id, "version", cmd.Version)
		return
	}
	if cmd.Type != "command" {
		s.logger.Error("unknown message type", "clientId", c.id, "type", cmd.Type)
		return
	}
	var params any
	if len(cmd.Params) > 0 {
		params = cmd.Params
	}
	s.messages.Broadcast(cmd.Command, params)
}

// BroadcastEvent sends event to every connected tool.
func (s *EventsServer) BroadcastEvent(event EventMessage) {
	if s.Count() == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to serialize event", "type", event.Type, "err", err)
		return
	}
	s.fanout(data, nil)
}

// Process implements reporter.Sink. App console entries become client_log
// events.
func (s *EventsServer) Process(e reporter.Entry) {
	if e.Issuer != ConsoleIssuer {
		return
	}
	level := string(e.Type)
	if level == "info" {
		level = "log"
	}
	s.BroadcastEvent(EventMessage{Type: "client_log", Level: level, Data: e.Message})
}
