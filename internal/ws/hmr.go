package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vango-dev/devpack/internal/compiler"
	"github.com/vango-dev/devpack/internal/ipc"
	"github.com/vango-dev/devpack/internal/telemetry"
)

// HMR actions.
const (
	ActionBuilding = "building"
	ActionBuilt    = "built"
	ActionSync     = "sync"
)

// HMRMessage is pushed to hot-reloading apps.
type HMRMessage struct {
	Action string          `json:"action"`
	Body   *HMRMessageBody `json:"body"`
}

// HMRMessageBody summarizes a completed build.
type HMRMessageBody struct {
	Name     string            `json:"name"`
	Time     int64             `json:"time"`
	Hash     string            `json:"hash"`
	Warnings []string          `json:"warnings"`
	Errors   []string          `json:"errors"`
	Modules  map[string]string `json:"modules"`
}

// StatsSource returns the latest completed build stats of a platform.
type StatsSource interface {
	Stats(platform string) *ipc.Stats
}

// HMRServer pushes build state to the apps of each platform. It is a
// compiler.Listener.
type HMRServer struct {
	*registry
	compiler.ListenerFuncs

	stats StatsSource
}

// NewHMRServer creates the HMR server.
func NewHMRServer(stats StatsSource, logger *slog.Logger, metrics *telemetry.Metrics) *HMRServer {
	return &HMRServer{
		registry: newRegistry("HMR", []string{"/__hmr"}, logger, metrics),
		stats:    stats,
	}
}

// Upgrade implements Server. A platform query parameter is required.
func (s *HMRServer) Upgrade(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	if platform == "" {
		http.Error(w, "missing platform query parameter", http.StatusBadRequest)
		return
	}
	s.serve(w, r, func(c *client) {
		s.logger.Info("HMR client connected", "clientId", c.id, "platform", platform)
		st := s.stats.Stats(platform)
		if st == nil {
			return
		}
		if err := c.sendJSON(HMRMessage{Action: ActionSync, Body: bodyFromStats(st)}); err != nil {
			s.logger.Debug("sync failed", "clientId", c.id, "err", err)
		}
	}, nil)
}

// OnBuildStart implements compiler.Listener.
func (s *HMRServer) OnBuildStart(platform string) {
	s.send(platform, HMRMessage{Action: ActionBuilding})
}

// OnBuildDone implements compiler.Listener.
func (s *HMRServer) OnBuildDone(platform string, stats *ipc.Stats) {
	s.send(platform, HMRMessage{Action: ActionBuilt, Body: bodyFromStats(stats)})
}

func (s *HMRServer) send(platform string, msg HMRMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("cannot encode HMR message", "action", msg.Action, "err", err)
		return
	}
	s.fanout(data, func(c *client) bool { return c.query.Get("platform") == platform })
}

func bodyFromStats(st *ipc.Stats) *HMRMessageBody {
	if st == nil {
		return nil
	}
	body := &HMRMessageBody{
		Name:     st.Name,
		Time:     st.Time,
		Hash:     st.Hash,
		Warnings: st.Warnings,
		Errors:   st.Errors,
		Modules:  st.ChangedModules,
	}
	if body.Warnings == nil {
		body.Warnings = []string{}
	}
	if body.Errors == nil {
		body.Errors = []string{}
	}
	if body.Modules == nil {
		body.Modules = map[string]string{}
	}
	return body
}
