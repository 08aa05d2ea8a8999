package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	bannerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "devpack",
		Short: "Multi-platform development server for mobile bundles",
		Long: `devpack serves JavaScript bundles to mobile apps during development.

It runs one build worker per platform, serves their output, pushes
hot updates over WebSocket, bridges the app to debuggers and dev tools,
and symbolicates stack traces with source maps.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		startCmd(),
		engineCmd(),
		versionCmd(),
	)

	// A worker spawned with a custom command that points back at this
	// binary carries no subcommand.
	if config.IsWorker() && len(os.Args) == 1 {
		rootCmd.SetArgs([]string{"engine"})
	}

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	var e *errors.Error
	if stderrors.As(err, &e) {
		fmt.Fprintln(os.Stderr, e.Format())
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("Error:"), err)
}
