package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vango-dev/devpack/internal/compiler"
	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/ipc"
	"github.com/vango-dev/devpack/internal/reporter"
	"github.com/vango-dev/devpack/internal/telemetry"
)

type fakeWorker struct {
	port   int
	events chan *ipc.Event
	done   chan struct{}
	once   sync.Once
}

func (w *fakeWorker) Port() int                 { return w.port }
func (w *fakeWorker) Events() <-chan *ipc.Event { return w.events }
func (w *fakeWorker) Wait() error               { <-w.done; return nil }

func (w *fakeWorker) Stop() {
	w.once.Do(func() {
		close(w.events)
		close(w.done)
	})
}

func (w *fakeWorker) finish(hash string, assets ...ipc.Asset) {
	w.events <- &ipc.Event{
		Type:   ipc.EventDone,
		Assets: assets,
		Stats:  &ipc.Stats{Name: "test", Hash: hash},
	}
}

// fakeSpawner hands out workers whose port is served by backend, or an
// unused port when backend is nil.
type fakeSpawner struct {
	backend *httptest.Server
	spawned chan *fakeWorker
}

func (s *fakeSpawner) Spawn(_ context.Context, req compiler.SpawnRequest) (compiler.Worker, error) {
	port := req.Port
	if s.backend != nil {
		u, _ := url.Parse(s.backend.URL)
		port, _ = strconv.Atoi(u.Port())
	}
	w := &fakeWorker{port: port, events: make(chan *ipc.Event), done: make(chan struct{})}
	s.spawned <- w
	return w, nil
}

func (s *fakeSpawner) next(t *testing.T) *fakeWorker {
	t.Helper()
	select {
	case w := <-s.spawned:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no worker spawned")
		return nil
	}
}

type testEnv struct {
	server  *Server
	http    *httptest.Server
	spawner *fakeSpawner
	metrics *telemetry.Metrics
}

type envOption func(*config.Config, *compiler.Options)

func newTestEnv(t *testing.T, backend http.Handler, opts ...envOption) *testEnv {
	t.Helper()
	cfg := config.New()
	cfg.Root = t.TempDir()
	cfg.Platforms = []string{"ios", "android"}
	cfg.Dev.LogBufferSize = 50

	spawner := &fakeSpawner{spawned: make(chan *fakeWorker, 8)}
	if backend != nil {
		spawner.backend = httptest.NewServer(backend)
		t.Cleanup(spawner.backend.Close)
	}

	metrics := telemetry.NewMetrics()
	rep := reporter.New(reporter.Options{BufferSize: cfg.Dev.LogBufferSize, Output: io.Discard})
	copts := compiler.Options{Config: cfg, Spawner: spawner, Logger: rep.Logger(), Metrics: metrics}
	for _, o := range opts {
		o(cfg, &copts)
	}
	comp := compiler.New(copts)

	s := New(Options{Config: cfg, Compiler: comp, Reporter: rep, Metrics: metrics, Logger: rep.Logger()})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, s.Shutdown(context.Background()))
	})
	return &testEnv{server: s, http: ts, spawner: spawner, metrics: metrics}
}
