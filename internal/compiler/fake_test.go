package compiler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/ipc"
)

type fakeWorker struct {
	port    int
	events  chan *ipc.Event
	done    chan struct{}
	once    sync.Once
	exitErr error
}

func newFakeWorker(port int) *fakeWorker {
	return &fakeWorker{
		port:   port,
		events: make(chan *ipc.Event),
		done:   make(chan struct{}),
	}
}

func (w *fakeWorker) Port() int                 { return w.port }
func (w *fakeWorker) Events() <-chan *ipc.Event { return w.events }

func (w *fakeWorker) Wait() error {
	<-w.done
	return w.exitErr
}

func (w *fakeWorker) Stop() { w.exit(nil) }

func (w *fakeWorker) exit(err error) {
	w.once.Do(func() {
		w.exitErr = err
		close(w.events)
		close(w.done)
	})
}

func (w *fakeWorker) emit(ev *ipc.Event) { w.events <- ev }

func (w *fakeWorker) finish(hash string, assets ...ipc.Asset) {
	w.emit(&ipc.Event{
		Type:   ipc.EventDone,
		Assets: assets,
		Stats:  &ipc.Stats{Name: "test", Hash: hash},
	})
}

type fakeSpawner struct {
	mu      sync.Mutex
	workers []*fakeWorker
	failN   int
	spawned chan *fakeWorker
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{spawned: make(chan *fakeWorker, 16)}
}

func (s *fakeSpawner) Spawn(_ context.Context, req SpawnRequest) (Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return nil, fmt.Errorf("exec: engine not found")
	}
	w := newFakeWorker(req.Port)
	s.workers = append(s.workers, w)
	s.spawned <- w
	return w, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
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

func newTestCompiler(t *testing.T, opts ...func(*Options)) (*Compiler, *fakeSpawner) {
	t.Helper()
	spawner := newFakeSpawner()
	o := Options{Config: config.New(), Spawner: spawner}
	for _, fn := range opts {
		fn(&o)
	}
	c := New(o)
	t.Cleanup(c.Close)
	return c, spawner
}

func pendingCount(c *Compiler, platform string) int {
	p := c.lookup(platform)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func waitPending(t *testing.T, c *Compiler, platform string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return pendingCount(c, platform) == n }, 2*time.Second, 5*time.Millisecond)
}

func asset(name, data string) ipc.Asset {
	return ipc.Asset{Name: name, Data: []byte(data)}
}
