package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-dev/devpack/internal/telemetry"
)

// ConsoleIssuer is the log component of app console output.
const ConsoleIssuer = "Console"

type clientMessage struct {
	Type  string `json:"type"`
	Level string `json:"level"`
	Data  []any  `json:"data"`
}

// DevClientServer receives console output from running apps and logs it.
type DevClientServer struct {
	*registry

	console *slog.Logger
}

// NewDevClientServer creates the dev client server.
func NewDevClientServer(logger *slog.Logger, metrics *telemetry.Metrics) *DevClientServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DevClientServer{
		registry: newRegistry("DevClient", []string{"/__client"}, logger, metrics),
		console:  logger.With("component", ConsoleIssuer),
	}
}

// Upgrade implements Server.
func (s *DevClientServer) Upgrade(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, nil, s.handle)
}

func (s *DevClientServer) handle(c *client, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("invalid client message", "clientId", c.id, "err", err)
		return
	}
	if msg.Type != "client-log" {
		s.logger.Warn("unknown client message", "clientId", c.id, "type", msg.Type)
		return
	}

	var level slog.Level
	switch msg.Level {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info", "log":
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}
	s.console.Log(context.Background(), level, consoleText(msg.Data))
}

func consoleText(data []any) string {
	parts := make([]string, 0, len(data))
	for _, d := range data {
		if str, ok := d.(string); ok {
			parts = append(parts, str)
			continue
		}
		b, err := json.Marshal(d)
		if err != nil {
			continue
		}
		parts = append(parts, string(b))
	}
	return strings.Join(parts, " ")
}
