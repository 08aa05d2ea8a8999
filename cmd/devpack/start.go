package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/devpack/internal/compiler"
	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/publish"
	"github.com/vango-dev/devpack/internal/reporter"
	"github.com/vango-dev/devpack/internal/server"
	"github.com/vango-dev/devpack/internal/telemetry"
)

type startOptions struct {
	port        int
	host        string
	root        string
	verbose     bool
	json        bool
	platforms   []string
	noDashboard bool
}

func startCmd() *cobra.Command {
	var opts startOptions

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the development server",
		Long: `Start the development server.

Workers are spawned lazily on the first request for a platform.
Use --platform to start workers up front.

Examples:
  devpack start
  devpack start --port=8082 --platform=ios --platform=android
  devpack start --root=./app --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Port to listen on (default from config, else 8081)")
	cmd.Flags().StringVarP(&opts.host, "host", "H", "", "Host to bind to (default from config)")
	cmd.Flags().StringVar(&opts.root, "root", "", "Project root (default: current directory)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Write logs as JSON lines")
	cmd.Flags().StringArrayVar(&opts.platforms, "platform", nil, "Platform to start eagerly (repeatable)")
	cmd.Flags().BoolVar(&opts.noDashboard, "no-dashboard", false, "Disable the dashboard API and channel")

	return cmd
}

func loadConfig(opts startOptions) (*config.Config, error) {
	root := opts.root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadOrDefault(root)
	if err != nil {
		return nil, err
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.verbose {
		cfg.Dev.Verbose = true
	}
	if opts.noDashboard {
		cfg.Dev.DisableDashboard = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStart(ctx context.Context, opts startOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep := reporter.New(reporter.Options{
		BufferSize: cfg.Dev.LogBufferSize,
		Verbose:    cfg.Dev.Verbose,
		JSON:       opts.json,
	})
	logger := rep.Logger()
	metrics := telemetry.NewMetrics()

	comp := compiler.New(compiler.Options{
		Config:           cfg,
		Logger:           logger,
		WorkerLogs:       rep,
		Metrics:          metrics,
		AssetWaitTimeout: cfg.AssetWaitTimeout(),
	})
	srv := server.New(server.Options{
		Config:   cfg,
		Compiler: comp,
		Reporter: rep,
		Metrics:  metrics,
		Logger:   logger,
	})

	if cfg.Publish.Enabled() {
		pub, err := publish.NewS3(ctx, cfg.Publish, comp, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		comp.Subscribe(pub.Listener())
	}

	if !opts.json {
		fmt.Println(bannerStyle.Render("devpack") + " " + version)
		fmt.Printf("  Serving %s on %s\n\n", cfg.Root, cfg.URL())
	}

	for _, platform := range opts.platforms {
		if err := comp.Start(ctx, platform); err != nil {
			logger.Error("failed to start platform", "platform", platform, "err", err)
		}
	}

	return srv.Run(ctx)
}
