package compiler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/chanx"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/errors"
	"github.com/vango-dev/devpack/internal/ipc"
	"github.com/vango-dev/devpack/internal/reporter"
	"github.com/vango-dev/devpack/internal/telemetry"
)

// Asset is a compiled artifact held in a platform's cache.
type Asset = ipc.Asset

// AssetSummary is the dashboard view of a cached asset.
type AssetSummary struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// PlatformInfo is the dashboard view of a platform.
type PlatformInfo struct {
	ID         string `json:"id"`
	Port       int    `json:"port,omitempty"`
	Running    bool   `json:"running"`
	InProgress bool   `json:"inProgress"`
	Builds     int    `json:"builds"`
}

// Options configures a Compiler.
type Options struct {
	// Config supplies the per-platform worker options.
	Config *config.Config

	// Spawner starts workers. Defaults to a ProcessSpawner built from Config.
	Spawner Spawner

	// Logger is the base logger. Defaults to slog.Default().
	Logger *slog.Logger

	// WorkerLogs receives the log entries of workers started by the
	// default spawner.
	WorkerLogs reporter.Sink

	// Metrics records orchestration metrics. May be nil.
	Metrics *telemetry.Metrics

	// AssetWaitTimeout bounds how long GetAsset waits for an in-flight
	// build. Zero waits until the build finishes or the caller's context ends.
	AssetWaitTimeout time.Duration
}

// Compiler owns one worker, asset cache, stats cache and pending queue per
// platform.
type Compiler struct {
	cfg         *config.Config
	spawner     Spawner
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	waitTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	platforms map[string]*platform
	closed    bool

	listenersMu sync.RWMutex
	listeners   []Listener
}

type platform struct {
	name string

	// startMu serializes spawning and stopping.
	startMu sync.Mutex

	mu         sync.Mutex
	worker     Worker
	port       int
	gen        uint64
	running    bool
	stopping   bool
	exitWait   chan struct{}
	inProgress bool
	buildStart time.Time
	assets     map[string]*Asset
	stats      *ipc.Stats
	builds     int
	pending    []func(error)

	events *chanx.UnboundedChan[platformEvent]
}

type eventKind int

const (
	kindBuild eventKind = iota
	kindWorkerStarted
	kindWorkerExited
)

type platformEvent struct {
	kind  eventKind
	gen   uint64
	event *ipc.Event
	port  int
	err   error
}

// New creates a Compiler. Workers are spawned lazily.
func New(opts Options) *Compiler {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "Compiler")

	spawner := opts.Spawner
	if spawner == nil {
		env := make([]string, 0, len(cfg.Engine.Env))
		for k, v := range cfg.Engine.Env {
			env = append(env, k+"="+v)
		}
		spawner = &ProcessSpawner{
			Command: cfg.Engine.Command,
			Args:    cfg.Engine.Args,
			Dir:     cfg.Root,
			Env:     env,
			Logs:    opts.WorkerLogs,
			Logger:  logger,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Compiler{
		cfg:         cfg,
		spawner:     spawner,
		logger:      logger,
		metrics:     opts.Metrics,
		waitTimeout: opts.AssetWaitTimeout,
		ctx:         ctx,
		cancel:      cancel,
		platforms:   make(map[string]*platform),
	}
}

// Subscribe registers l for lifecycle callbacks of every platform.
func (c *Compiler) Subscribe(l Listener) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenersMu.Unlock()
}

func (c *Compiler) notify(fn func(Listener)) {
	c.listenersMu.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.listenersMu.RUnlock()
	for _, l := range listeners {
		fn(l)
	}
}

// lookup returns the platform state, or nil if it was never started.
func (c *Compiler) lookup(name string) *platform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.platforms[name]
}

// platformFor returns the platform state, creating it and its event loop.
func (c *Compiler) platformFor(name string) (*platform, error) {
	if !config.ValidPlatformName(name) {
		return nil, errors.New("E203").WithDetailf("invalid platform name %q", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("E208").WithPlatform(name)
	}
	p, ok := c.platforms[name]
	if !ok {
		p = &platform{
			name:   name,
			assets: make(map[string]*Asset),
			events: chanx.NewUnboundedChan[platformEvent](c.ctx, 16),
		}
		c.platforms[name] = p
		go c.loop(p)
	}
	return p, nil
}

// Start spawns the platform's worker. It logs a warning and does nothing if
// the worker is already running.
func (c *Compiler) Start(ctx context.Context, name string) error {
	return c.start(ctx, name, true)
}

// EnsureRunning spawns the platform's worker unless it is already running.
// A spawn failure is returned to the caller and leaves the platform
// startable.
func (c *Compiler) EnsureRunning(ctx context.Context, name string) error {
	if c.IsRunning(name) {
		return nil
	}
	return c.start(ctx, name, false)
}

func (c *Compiler) start(ctx context.Context, name string, warn bool) error {
	p, err := c.platformFor(name)
	if err != nil {
		return err
	}

	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if running {
		if warn {
			c.logger.Warn("worker already running", "platform", name)
		}
		return nil
	}

	port, err := freePort()
	if err != nil {
		c.metrics.WorkerSpawned(name, err)
		return errors.New("E200").
			WithPlatform(name).
			WithDetail("No free port for the worker").
			Wrap(err)
	}

	w, err := c.spawner.Spawn(ctx, SpawnRequest{
		Platform: name,
		Port:     port,
		Options:  c.cfg.WorkerOptions(name, port),
	})
	c.metrics.WorkerSpawned(name, err)
	if err != nil {
		c.logger.Error("failed to spawn worker", "platform", name, "err", err)
		return errors.New("E200").
			WithPlatform(name).
			WithSuggestion("Check engine.command and engine.args in the project config").
			Wrap(err)
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.worker = w
	p.port = w.Port()
	p.running = true
	p.stopping = false
	p.exitWait = make(chan struct{})
	p.inProgress = true
	p.buildStart = time.Now()
	p.mu.Unlock()

	c.logger.Info("worker started", "platform", name, "port", w.Port())
	c.enqueue(p, platformEvent{kind: kindWorkerStarted, gen: gen, port: w.Port()})
	go c.pump(p, gen, w)
	return nil
}

// pump forwards a worker's events to the platform loop, followed by its exit.
func (c *Compiler) pump(p *platform, gen uint64, w Worker) {
	for ev := range w.Events() {
		c.enqueue(p, platformEvent{kind: kindBuild, gen: gen, event: ev})
	}
	err := w.Wait()
	c.enqueue(p, platformEvent{kind: kindWorkerExited, gen: gen, err: err})
}

func (c *Compiler) enqueue(p *platform, e platformEvent) {
	select {
	case p.events.In <- e:
	case <-c.ctx.Done():
	}
}

func (c *Compiler) loop(p *platform) {
	for {
		select {
		case e, ok := <-p.events.Out:
			if !ok {
				return
			}
			c.handle(p, e)
		case <-c.ctx.Done():
			return
		}
	}
}

// handle applies one event. It runs only on the platform's loop.
func (c *Compiler) handle(p *platform, e platformEvent) {
	p.mu.Lock()
	if e.gen != p.gen {
		p.mu.Unlock()
		return
	}

	switch e.kind {
	case kindWorkerStarted:
		p.mu.Unlock()
		c.notify(func(l Listener) { l.OnWorkerStart(p.name, e.port) })

	case kindWorkerExited:
		requested := p.stopping
		p.running = false
		p.worker = nil
		p.port = 0
		p.stopping = false
		p.inProgress = false
		pending := p.takePending()
		exitWait := p.exitWait
		p.exitWait = nil
		p.mu.Unlock()

		c.metrics.WorkerExited()
		var err error
		if requested {
			c.logger.Info("worker stopped", "platform", p.name)
			c.resolve(p.name, pending, errors.New("E208").WithPlatform(p.name).WithDetail("The worker was stopped before the build finished."))
		} else {
			cause := e.err
			if cause == nil {
				cause = fmt.Errorf("exited with status 0")
			}
			err = errors.New("E201").WithPlatform(p.name).Wrap(cause)
			c.logger.Error("worker exited unexpectedly", "platform", p.name, "err", cause)
			c.resolve(p.name, pending, err)
		}
		if exitWait != nil {
			close(exitWait)
		}
		c.notify(func(l Listener) { l.OnWorkerExit(p.name, err) })

	case kindBuild:
		c.handleBuild(p, e.event)
	}
}

// handleBuild applies a build event. Caller holds p.mu; it is released here.
func (c *Compiler) handleBuild(p *platform, ev *ipc.Event) {
	switch ev.Type {
	case ipc.EventStarted, ipc.EventInvalidated:
		if !p.inProgress {
			p.inProgress = true
			p.buildStart = time.Now()
		}
		p.mu.Unlock()
		c.logger.Debug("build started", "platform", p.name, "event", string(ev.Type))
		c.notify(func(l Listener) { l.OnBuildStart(p.name) })

	case ipc.EventProgress:
		p.mu.Unlock()
		if ev.Progress != nil {
			c.logger.Debug("build progress", "platform", p.name, "percent", ev.Progress.Percent())
			c.notify(func(l Listener) { l.OnProgress(p.name, *ev.Progress) })
		}

	case ipc.EventDone:
		next := make(map[string]*Asset, len(p.assets)+len(ev.Assets))
		for name, a := range p.assets {
			if !a.IsHMR() {
				next[name] = a
			}
		}
		for i := range ev.Assets {
			a := ev.Assets[i]
			next[a.Name] = &a
		}
		p.assets = next
		p.stats = ev.Stats
		p.builds++
		p.inProgress = false
		elapsed := time.Since(p.buildStart)
		pending := p.takePending()
		stats := p.stats
		p.mu.Unlock()

		c.resolve(p.name, pending, nil)
		c.metrics.BuildFinished(p.name, elapsed, nil)
		c.logger.Info("build done", "platform", p.name, "assets", len(ev.Assets), "duration", elapsed.Round(time.Millisecond).String())
		c.notify(func(l Listener) { l.OnBuildDone(p.name, stats) })

	case ipc.EventError:
		p.inProgress = false
		elapsed := time.Since(p.buildStart)
		pending := p.takePending()
		p.mu.Unlock()

		err := errors.New("E209").WithPlatform(p.name).WithDetail(ev.Message)
		c.resolve(p.name, pending, err)
		c.metrics.BuildFinished(p.name, elapsed, err)
		c.logger.Error("build failed", "platform", p.name, "err", ev.Message)
		c.notify(func(l Listener) { l.OnBuildError(p.name, err) })

	default:
		p.mu.Unlock()
	}
}

// takePending empties the queue. Caller holds p.mu.
func (p *platform) takePending() []func(error) {
	pending := p.pending
	p.pending = nil
	return pending
}

// resolve runs continuations in submission order.
func (c *Compiler) resolve(platform string, pending []func(error), err error) {
	for _, fn := range pending {
		fn(err)
	}
	c.metrics.PendingDrained(platform, len(pending))
}

// whenReadyLocked queues fn to run once the build in flight for p completes
// (fn(nil)), fails or the worker exits (fn(err)). It returns false without
// queueing when no build is in progress. p.mu must be held. fn runs on the
// platform loop and must not block.
func (c *Compiler) whenReadyLocked(p *platform, fn func(error)) bool {
	if !p.inProgress {
		return false
	}
	p.pending = append(p.pending, fn)
	c.metrics.PendingAdded(p.name)
	return true
}

// GetAsset returns a compiled asset, waiting for the build in flight if the
// asset is not cached yet.
func (c *Compiler) GetAsset(ctx context.Context, platform, name string) (asset *Asset, err error) {
	ctx, span := telemetry.StartSpan(ctx, "compiler.GetAsset", platform, attribute.String("devpack.asset", name))
	defer func() { telemetry.EndSpan(span, err) }()

	if a, ok := c.cached(platform, name); ok {
		return a, nil
	}

	done := make(chan error, 1)
	var queued bool
	if p := c.lookup(platform); p != nil {
		p.mu.Lock()
		if a, ok := p.assets[name]; ok {
			p.mu.Unlock()
			return a, nil
		}
		queued = c.whenReadyLocked(p, func(err error) { done <- err })
		p.mu.Unlock()
	}
	if !queued {
		return nil, assetNotFound(platform, name)
	}

	var timeout <-chan time.Time
	if c.waitTimeout > 0 {
		t := time.NewTimer(c.waitTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		if a, ok := c.cached(platform, name); ok {
			return a, nil
		}
		return nil, assetNotFound(platform, name)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, errors.New("E207").
			WithPlatform(platform).
			WithDetailf("%s was not built within %s", name, c.waitTimeout)
	}
}

func (c *Compiler) cached(platform, name string) (*Asset, bool) {
	p := c.lookup(platform)
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.assets[name]
	return a, ok
}

func assetNotFound(platform, name string) error {
	return errors.New("E202").
		WithPlatform(platform).
		WithDetailf("%s is not in the %s build output and no build is in progress", name, platform)
}

// GetSourceMapFor returns the source map of a compiled bundle. The map is
// found through the bundle's related "sourceMap" asset, then its
// sourceMappingURL comment, then the "<name>.map" convention.
func (c *Compiler) GetSourceMapFor(ctx context.Context, platform, name string) (*Asset, error) {
	bundle, err := c.GetAsset(ctx, platform, name)
	if err != nil {
		return nil, err
	}
	if related := bundle.Info.Related["sourceMap"]; related != "" {
		return c.GetAsset(ctx, platform, related)
	}
	if ref := sourceMappingURL(bundle.Data); ref != "" {
		mapName := ref
		if dir := path.Dir(name); dir != "." {
			mapName = path.Join(dir, ref)
		}
		if a, err := c.GetAsset(ctx, platform, mapName); err == nil {
			return a, nil
		}
	}
	return c.GetAsset(ctx, platform, name+".map")
}

var sourceMappingPrefixes = [][]byte{[]byte("//# sourceMappingURL="), []byte("//@ sourceMappingURL=")}

// sourceMappingURL extracts a relative map reference from a bundle's
// trailing comment. Inline and absolute references are ignored.
func sourceMappingURL(data []byte) string {
	idx, prefixLen := -1, 0
	for _, prefix := range sourceMappingPrefixes {
		if i := bytes.LastIndex(data, prefix); i > idx {
			idx, prefixLen = i, len(prefix)
		}
	}
	if idx < 0 {
		return ""
	}
	rest := data[idx+prefixLen:]
	if end := bytes.IndexAny(rest, "\r\n"); end >= 0 {
		rest = rest[:end]
	}
	ref := strings.TrimSpace(string(rest))
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.Contains(ref, "://") || strings.HasPrefix(ref, "/") {
		return ""
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return ref
}

// Assets lists the cached assets of a platform, sorted by name.
func (c *Compiler) Assets(platform string) []AssetSummary {
	p := c.lookup(platform)
	if p == nil {
		return []AssetSummary{}
	}
	p.mu.Lock()
	out := make([]AssetSummary, 0, len(p.assets))
	for name, a := range p.assets {
		out = append(out, AssetSummary{Name: name, Size: len(a.Data)})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns the latest build stats of a platform, or nil before the
// first completed build.
func (c *Compiler) Stats(platform string) *ipc.Stats {
	p := c.lookup(platform)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Platforms lists the configured platforms and every platform that was
// ever started, sorted by name. Configured platforms that never started are
// reported as not running.
func (c *Compiler) Platforms() []PlatformInfo {
	c.mu.Lock()
	ps := make([]*platform, 0, len(c.platforms))
	for _, p := range c.platforms {
		ps = append(ps, p)
	}
	var idle []string
	for _, name := range c.cfg.Platforms {
		if _, ok := c.platforms[name]; !ok && !slices.Contains(idle, name) {
			idle = append(idle, name)
		}
	}
	c.mu.Unlock()

	out := make([]PlatformInfo, 0, len(ps)+len(idle))
	for _, name := range idle {
		out = append(out, PlatformInfo{ID: name})
	}
	for _, p := range ps {
		p.mu.Lock()
		out = append(out, PlatformInfo{
			ID:         p.name,
			Port:       p.port,
			Running:    p.running,
			InProgress: p.inProgress,
			Builds:     p.builds,
		})
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsRunning reports whether the platform has a running worker.
func (c *Compiler) IsRunning(platform string) bool {
	p := c.lookup(platform)
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Port returns the private HTTP port of the platform's worker.
func (c *Compiler) Port(platform string) (int, bool) {
	p := c.lookup(platform)
	if p == nil {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port, p.running
}

// Stop terminates the platform's worker and waits until its exit was
// processed. Requests waiting on it fail with E208.
func (c *Compiler) Stop(platform string) {
	p := c.lookup(platform)
	if p == nil {
		return
	}
	p.startMu.Lock()
	defer p.startMu.Unlock()
	c.stopLocked(p)
}

func (c *Compiler) stopLocked(p *platform) {
	p.mu.Lock()
	w, exitWait := p.worker, p.exitWait
	if w == nil {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	p.mu.Unlock()

	w.Stop()
	select {
	case <-exitWait:
	case <-c.ctx.Done():
	}
}

// Restart stops the platform's worker, if any, and spawns a new one.
// Requests waiting on the old worker fail with E208.
func (c *Compiler) Restart(ctx context.Context, platform string) error {
	c.logger.Info("restarting worker", "platform", platform)
	c.Stop(platform)
	return c.start(ctx, platform, false)
}

// Close stops every worker and fails all remaining waiters with E208.
func (c *Compiler) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ps := make([]*platform, 0, len(c.platforms))
	for _, p := range c.platforms {
		ps = append(ps, p)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range ps {
		wg.Add(1)
		go func(p *platform) {
			defer wg.Done()
			p.startMu.Lock()
			defer p.startMu.Unlock()
			c.stopLocked(p)
		}(p)
	}
	wg.Wait()

	for _, p := range ps {
		p.mu.Lock()
		pending := p.takePending()
		p.inProgress = false
		p.mu.Unlock()
		c.resolve(p.name, pending, errors.New("E208").WithPlatform(p.name))
	}
	c.cancel()
}
