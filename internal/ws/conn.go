package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/devpack/internal/telemetry"
)

const (
	writeWait = 10 * time.Second

	// sendQueueSize bounds the broadcasts waiting to be written to one
	// client. Broadcasts to a client with a full queue are dropped.
	sendQueueSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev server, any origin
	},
}

// client is one accepted connection.
type client struct {
	id    string
	seq   int
	conn  *websocket.Conn
	query url.Values

	writeMu sync.Mutex

	queue chan []byte
	done  chan struct{}
}

// enqueue hands data to the client's write loop without blocking. It
// reports false when the queue is full or the client is gone.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

// writeLoop writes queued broadcasts until the client is gone. A failed
// write closes the connection, which ends the read loop.
func (c *client) writeLoop(logger *slog.Logger) {
	for {
		select {
		case data := <-c.queue:
			if err := c.send(data); err != nil {
				logger.Debug("send failed", "clientId", c.id, "err", err)
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(data)
}

// close sends a close frame with code and reason, then drops the connection.
func (c *client) close(code int, reason string) {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// registry tracks the connections of one protocol server.
type registry struct {
	name    string
	paths   []string
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	nextID  int
	clients map[string]*client
}

func newRegistry(name string, paths []string, logger *slog.Logger, metrics *telemetry.Metrics) *registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &registry{
		name:    name,
		paths:   paths,
		logger:  logger.With("component", name),
		metrics: metrics,
		clients: make(map[string]*client),
	}
}

// Name implements Server.
func (r *registry) Name() string { return r.name }

// Paths implements Server.
func (r *registry) Paths() []string { return r.paths }

// ShouldUpgrade implements Server.
func (r *registry) ShouldUpgrade(path string) bool {
	return slices.Contains(r.paths, path)
}

func (r *registry) add(conn *websocket.Conn, req *http.Request) *client {
	r.mu.Lock()
	seq := r.nextID
	r.nextID++
	c := &client{
		id:    "client#" + strconv.Itoa(seq),
		seq:   seq,
		conn:  conn,
		query: req.URL.Query(),
		queue: make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
	}
	r.clients[c.id] = c
	r.mu.Unlock()

	r.metrics.ConnectionOpened(r.name)
	r.logger.Debug("client connected", "clientId", c.id)
	return c
}

func (r *registry) remove(c *client) {
	r.mu.Lock()
	_, ok := r.clients[c.id]
	delete(r.clients, c.id)
	r.mu.Unlock()
	if ok {
		r.metrics.ConnectionClosed(r.name)
		r.logger.Debug("client disconnected", "clientId", c.id)
	}
}

func (r *registry) get(id string) (*client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// snapshot returns the connected clients in connection order.
func (r *registry) snapshot() []*client {
	r.mu.RLock()
	out := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *client) int { return a.seq - b.seq })
	return out
}

// Count returns the number of connected clients.
func (r *registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// fanout queues data for every client accepted by keep and returns how many
// accepted it. It never waits on a connection: a client whose queue is full
// misses the message.
func (r *registry) fanout(data []byte, keep func(*client) bool) int {
	sent := 0
	for _, c := range r.snapshot() {
		if keep != nil && !keep(c) {
			continue
		}
		if !c.enqueue(data) {
			r.logger.Warn("client is not keeping up, dropping message", "clientId", c.id)
			continue
		}
		sent++
	}
	return sent
}

// serve upgrades the request, registers the connection and runs its read
// loop until the peer goes away. onOpen runs before the first read.
func (r *registry) serve(w http.ResponseWriter, req *http.Request, onOpen func(*client), onMessage func(*client, []byte)) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("upgrade failed", "err", err)
		return
	}
	c := r.add(conn, req)
	go c.writeLoop(r.logger)
	defer func() {
		r.remove(c)
		close(c.done)
		_ = conn.Close()
	}()

	if onOpen != nil {
		onOpen(c)
	}
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				r.logger.Debug("read error", "clientId", c.id, "err", err)
			}
			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if onMessage != nil {
			onMessage(c, data)
		}
	}
}

// Close disconnects every client.
func (r *registry) Close() {
	for _, c := range r.snapshot() {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}
