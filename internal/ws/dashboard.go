package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vango-dev/devpack/internal/compiler"
	"github.com/vango-dev/devpack/internal/ipc"
	"github.com/vango-dev/devpack/internal/reporter"
	"github.com/vango-dev/devpack/internal/telemetry"
)

// Compilation event names sent to the dashboard.
const (
	CompilationWatchRun = "watchRun"
	CompilationInvalid  = "invalid"
	CompilationProgress = "progress"
	CompilationDone     = "done"
	CompilationFailed   = "failed"
)

// CompilationEvent describes a build step of one platform.
type CompilationEvent struct {
	Name     string     `json:"name"`
	Platform string     `json:"platform"`
	Value    float64    `json:"value,omitempty"`
	Label    string     `json:"label,omitempty"`
	Stats    *ipc.Stats `json:"stats,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// DashboardServer streams {kind, ...} envelopes to dashboard observers. Sends
// are best effort.
type DashboardServer struct {
	*registry
}

// NewDashboardServer creates the dashboard server.
func NewDashboardServer(logger *slog.Logger, metrics *telemetry.Metrics) *DashboardServer {
	return &DashboardServer{registry: newRegistry("Dashboard", []string{"/api/dashboard"}, logger, metrics)}
}

// Upgrade implements Server.
func (s *DashboardServer) Upgrade(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, func(c *client) {
		s.logger.Info("dashboard client connected", "clientId", c.id)
	}, nil)
}

// Send marshals v and delivers it to every observer.
func (s *DashboardServer) Send(v any) {
	if s.Count() == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.fanout(data, nil)
}

func (s *DashboardServer) compilation(ev CompilationEvent) {
	s.Send(map[string]any{"kind": "compilation", "event": ev})
}

// Process implements reporter.Sink. Entries logged by the dashboard server
// itself are skipped.
func (s *DashboardServer) Process(e reporter.Entry) {
	if e.Issuer == s.name {
		return
	}
	s.Send(map[string]any{"kind": "log", "log": e})
}

// Listener returns the compiler.Listener that feeds compilation events.
func (s *DashboardServer) Listener() compiler.Listener {
	return compiler.ListenerFuncs{
		BuildStart: func(platform string) {
			s.compilation(CompilationEvent{Name: CompilationWatchRun, Platform: platform})
		},
		Progress: func(platform string, p ipc.Progress) {
			s.compilation(CompilationEvent{
				Name:     CompilationProgress,
				Platform: platform,
				Value:    float64(p.Percent()) / 100,
				Label:    p.Message,
			})
		},
		BuildDone: func(platform string, stats *ipc.Stats) {
			s.compilation(CompilationEvent{Name: CompilationDone, Platform: platform, Stats: stats})
		},
		BuildError: func(platform string, err error) {
			s.compilation(CompilationEvent{Name: CompilationFailed, Platform: platform, Error: err.Error()})
		},
		WorkerExit: func(platform string, err error) {
			if err != nil {
				s.compilation(CompilationEvent{Name: CompilationInvalid, Platform: platform, Error: err.Error()})
			}
		},
	}
}
