package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vango-dev/devpack/internal/compiler"
	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/errors"
	"github.com/vango-dev/devpack/internal/ipc"
	"github.com/vango-dev/devpack/internal/reporter"
	"github.com/vango-dev/devpack/internal/symbolicate"
	"github.com/vango-dev/devpack/internal/telemetry"
	"github.com/vango-dev/devpack/internal/ws"
)

const (
	helloText  = "devpack dev server is running"
	statusText = "packager-status:running"

	shutdownTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	Config   *config.Config
	Compiler *compiler.Compiler
	Reporter *reporter.Reporter
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// Server is the dev server: HTTP routes, the reverse proxy to platform
// workers and the WebSocket servers.
type Server struct {
	cfg      *config.Config
	compiler *compiler.Compiler
	reporter *reporter.Reporter
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	symbolicator *symbolicate.Symbolicator
	proxy        *httputil.ReverseProxy

	wsRouter  *ws.Router
	hmr       *ws.HMRServer
	messages  *ws.MessageServer
	events    *ws.EventsServer
	dashboard *ws.DashboardServer
	debugger  *ws.DebuggerServer
	devClient *ws.DevClientServer

	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
}

// New wires the WebSocket servers to the compiler and reporter and builds
// the HTTP handler.
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.New()
	}
	rep := opts.Reporter
	if rep == nil {
		rep = reporter.New(reporter.Options{BufferSize: cfg.Dev.LogBufferSize, Verbose: cfg.Dev.Verbose})
	}
	logger := opts.Logger
	if logger == nil {
		logger = rep.Logger()
	}
	comp := opts.Compiler
	if comp == nil {
		comp = compiler.New(compiler.Options{
			Config:           cfg,
			Logger:           logger,
			WorkerLogs:       rep,
			Metrics:          opts.Metrics,
			AssetWaitTimeout: cfg.AssetWaitTimeout(),
		})
	}

	s := &Server{
		cfg:      cfg,
		compiler: comp,
		reporter: rep,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "DevServer"),
		wsRouter: ws.NewRouter(logger),
	}
	s.proxy = newProxy(s.logger, cfg.ReadyTimeout())
	s.symbolicator = symbolicate.New(&sourceProvider{compiler: comp, root: cfg.Root}, symbolicate.Options{
		Logger:  logger,
		Metrics: opts.Metrics,
	})

	s.hmr = ws.NewHMRServer(comp, logger, opts.Metrics)
	s.messages = ws.NewMessageServer(logger, opts.Metrics)
	s.events = ws.NewEventsServer(s.messages, logger, opts.Metrics)
	s.debugger = ws.NewDebuggerServer(logger, opts.Metrics)
	s.devClient = ws.NewDevClientServer(logger, opts.Metrics)
	s.wsRouter.Register(s.hmr)
	s.wsRouter.Register(s.messages)
	s.wsRouter.Register(s.events)
	s.wsRouter.Register(s.debugger)
	s.wsRouter.Register(s.devClient)

	comp.Subscribe(s.hmr)
	comp.Subscribe(compiler.ListenerFuncs{
		BuildDone: func(platform string, _ *ipc.Stats) { s.symbolicator.Evict(platform) },
	})
	rep.AddSink(s.events)

	if !cfg.Dev.DisableDashboard {
		s.dashboard = ws.NewDashboardServer(logger, opts.Metrics)
		s.wsRouter.Register(s.dashboard)
		comp.Subscribe(s.dashboard.Listener())
		rep.AddSink(s.dashboard)
	}

	s.handler = s.wsRouter.Middleware(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(helloText))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(statusText))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut} {
		r.MethodFunc(method, "/reload", s.broadcastHandler("reload"))
		r.MethodFunc(method, "/dev-menu", s.broadcastHandler("devMenu"))
	}
	r.Post("/symbolicate", s.handleSymbolicate)

	if !s.cfg.Dev.DisableDashboard {
		r.Get("/api/dashboard/platforms", s.handlePlatforms)
		r.Get("/api/dashboard/server-logs", s.handleServerLogs)
		r.Get("/api/platforms/{platform}/assets", s.handleAssets)
		r.Get("/api/platforms/{platform}/stats", s.handleStats)
		r.Post("/api/platforms/{platform}/restart", s.handleRestart)
	}

	r.HandleFunc("/*", s.handlePlatform)
	return r
}

func (s *Server) broadcastHandler(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.messages.Broadcast(method, nil)
		_, _ = w.Write([]byte("OK"))
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Compiler returns the compiler the server forwards to.
func (s *Server) Compiler() *compiler.Compiler {
	return s.compiler
}

// Messages returns the message server, used to broadcast to connected apps.
func (s *Server) Messages() *ws.MessageServer {
	return s.messages
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		if stderrors.Is(err, syscall.EADDRINUSE) {
			return errors.New("E142").WithDetailf("%s is already in use", s.cfg.Address()).Wrap(err)
		}
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dev server listening", "address", l.Addr().String())
		if s.cfg.Server.TLSEnabled() {
			errCh <- srv.ServeTLS(l, s.cfg.Server.HTTPS.CertFile, s.cfg.Server.HTTPS.KeyFile)
			return
		}
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown closes WebSocket clients, stops accepting requests and stops
// every worker. Requests still waiting on a build fail with E208.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsRouter.Close()
	s.compiler.Close()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "err", err)
			return err
		}
	}
	s.logger.Info("server shutdown complete")
	return nil
}
