package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Server is a WebSocket protocol server mounted on one or more paths.
type Server interface {
	Name() string
	Paths() []string
	ShouldUpgrade(path string) bool
	Upgrade(w http.ResponseWriter, r *http.Request)
	Close()
}

// Router dispatches upgrade requests to the first registered server whose
// path matches. Unmatched upgrades are dropped without a response.
type Router struct {
	logger *slog.Logger

	mu      sync.RWMutex
	servers []Server
	owners  map[string]string
}

// NewRouter creates an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger: logger.With("component", "WebSocketRouter"),
		owners: make(map[string]string),
	}
}

// Register adds s. It panics if another server already owns one of its paths.
func (rt *Router) Register(s Server) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, p := range s.Paths() {
		if owner, ok := rt.owners[p]; ok {
			panic(fmt.Sprintf("ws: path %s registered by both %s and %s", p, owner, s.Name()))
		}
	}
	for _, p := range s.Paths() {
		rt.owners[p] = s.Name()
	}
	rt.servers = append(rt.servers, s)
}

// ServeHTTP hands the upgrade to the owning server.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mu.RLock()
	servers := rt.servers
	rt.mu.RUnlock()

	for _, s := range servers {
		if s.ShouldUpgrade(r.URL.Path) {
			s.Upgrade(w, r)
			return
		}
	}

	rt.logger.Debug("no server for upgrade, dropping connection", "path", r.URL.Path)
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.NotFound(w, r)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

// Middleware routes WebSocket upgrade requests to the Router and every other
// request to next.
func (rt *Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			rt.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close disconnects the clients of every server.
func (rt *Router) Close() {
	rt.mu.RLock()
	servers := rt.servers
	rt.mu.RUnlock()
	for _, s := range servers {
		s.Close()
	}
}
