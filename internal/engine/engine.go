package engine

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/errors"
	"github.com/vango-dev/devpack/internal/ipc"
)

// DefaultDebounce is how long the engine waits for writes to settle before
// rebuilding.
const DefaultDebounce = 100 * time.Millisecond

// Options configures an Engine.
type Options struct {
	Worker config.WorkerOptions

	// Events receives ipc frames, normally the worker's stdout.
	Events io.Writer

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	Logger *slog.Logger
}

// Engine publishes one platform's output directory.
type Engine struct {
	platform string
	dir      string
	port     int
	debounce time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	enc  *ipc.FrameEncoder
	last *snapshot
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Worker.Platform == "" {
		return nil, errors.New("E122").WithDetail("worker options have no platform")
	}
	if !config.ValidPlatformName(opts.Worker.Platform) {
		return nil, errors.New("E122").WithDetailf("invalid platform name %q", opts.Worker.Platform)
	}
	dir := opts.Worker.OutputDir
	if dir == "" {
		dir = filepath.Join(opts.Worker.Root, config.DefaultOutputDir, opts.Worker.Platform)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := opts.Events
	if events == nil {
		events = os.Stdout
	}
	return &Engine{
		platform: opts.Worker.Platform,
		dir:      dir,
		port:     opts.Worker.Port,
		debounce: debounce,
		logger:   logger.With("component", "engine"),
		enc:      ipc.NewFrameEncoder(events),
	}, nil
}

// Dir returns the directory being published.
func (e *Engine) Dir() string {
	return e.dir
}

// Run builds once, then serves the directory and rebuilds on change until
// ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return errors.New("E209").WithPlatform(e.platform).Wrap(err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := e.watchTree(watcher, e.dir); err != nil {
		return err
	}

	var srv *http.Server
	if e.port > 0 {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(e.port)))
		if err != nil {
			return errors.New("E142").WithPlatform(e.platform).Wrap(err)
		}
		srv = &http.Server{Handler: e.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.Serve(l); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				e.logger.Error("file server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	e.logger.Info("publishing output directory", "dir", e.dir, "platform", e.platform)
	if err := e.Build(); err != nil {
		return err
	}
	return e.watch(ctx, watcher)
}

// Handler serves the output directory.
func (e *Engine) Handler() http.Handler {
	return http.FileServer(http.Dir(e.dir))
}

// Build reads the output directory and reports it as a completed build.
// A directory that cannot be read is reported as a failed build. Only a
// broken event channel is returned as an error.
func (e *Engine) Build() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enc.WriteEvent(&ipc.Event{Type: ipc.EventStarted, Platform: e.platform}); err != nil {
		return err
	}
	start := time.Now()
	snap, err := readDir(e.dir, func(done, total int) {
		_ = e.enc.WriteEvent(&ipc.Event{
			Type:     ipc.EventProgress,
			Platform: e.platform,
			Progress: &ipc.Progress{Completed: done, Total: total, Message: "reading assets"},
		})
	})
	if err != nil {
		e.logger.Error("build failed", "err", err)
		return e.enc.WriteEvent(&ipc.Event{Type: ipc.EventError, Platform: e.platform, Message: err.Error()})
	}

	stats := snap.stats(e.platform, e.last, time.Since(start))
	e.last = snap
	e.logger.Debug("build done", "hash", stats.Hash, "assets", len(snap.assets))
	return e.enc.WriteEvent(&ipc.Event{
		Type:     ipc.EventDone,
		Platform: e.platform,
		Assets:   snap.assets,
		Stats:    stats,
	})
}

// invalidate tells the server a rebuild is coming.
func (e *Engine) invalidate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.WriteEvent(&ipc.Event{Type: ipc.EventInvalidated, Platform: e.platform})
}

func (e *Engine) watch(ctx context.Context, watcher *fsnotify.Watcher) error {
	timer := time.NewTimer(e.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignored(filepath.Base(ev.Name)) || ev.Op == fsnotify.Chmod {
				continue
			}
			e.logger.Debug("output changed", "file", ev.Name, "op", ev.Op.String())
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := e.watchTree(watcher, ev.Name); err != nil {
						e.logger.Warn("cannot watch new directory", "dir", ev.Name, "err", err)
					}
				}
			}
			if !pending {
				pending = true
				if err := e.invalidate(); err != nil {
					return err
				}
			}
			timer.Reset(e.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("watcher error", "err", err)

		case <-timer.C:
			pending = false
			if err := e.Build(); err != nil {
				return err
			}
		}
	}
}

// watchTree adds dir and its subdirectories; fsnotify is not recursive.
func (e *Engine) watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && ignored(d.Name()) {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}
