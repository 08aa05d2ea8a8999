package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/engine"
	"github.com/vango-dev/devpack/internal/reporter"
)

func engineCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "engine",
		Short:  "Run the reference build engine (started by the dev server)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.WorkerOptionsFromEnv()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// stdout carries ipc frames; logs go to stderr as JSON lines.
			rep := reporter.New(reporter.Options{
				Output:  os.Stderr,
				Verbose: opts.Verbose || config.VerboseFromEnv(),
				JSON:    true,
			})
			e, err := engine.New(engine.Options{
				Worker: opts,
				Events: os.Stdout,
				Logger: rep.Logger(),
			})
			if err != nil {
				return err
			}
			return e.Run(ctx)
		},
	}
}
