// Package main provides the CLI entry point for the toolsmith agent
// runtime.
//
// The runtime speaks the host protocol over stdio, so stdout is reserved
// for protocol frames and all logging goes to stderr.
//
// # Basic Usage
//
// Serve with a persona's tool set:
//
//	toolsmith serve --persona devops
//
// Serve explicit modules, or everything in the catalog:
//
//	toolsmith serve --tools jira,gitlab
//	toolsmith serve --all
//
// # Environment Variables
//
// A .env file in the working directory is loaded at boot when present.
// Config values may reference environment variables; they are expanded
// when the config file is read.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/toolsmith-ai/toolsmith/internal/runtime"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes follow the sysexits convention where one applies.
const (
	exitOK       = 0
	exitUsage    = 64
	exitInternal = 70
	exitStdio    = 77
)

// errUsage marks argument errors so main can exit with the usage code.
var errUsage = errors.New("invalid arguments")

func main() {
	// Best effort; a missing .env file is the common case.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := buildRootCmd(logger)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		logger.Error("command failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, runtime.ErrStdio):
		return exitStdio
	default:
		return exitInternal
	}
}

// serveOptions carries the flag values shared by the root command and the
// explicit serve subcommand.
type serveOptions struct {
	configPath string
	serverName string
	persona    string
	modules    []string
	all        bool
	noBus      bool
	debug      bool
}

func buildRootCmd(logger *slog.Logger) *cobra.Command {
	opts := &serveOptions{}

	rootCmd := &cobra.Command{
		Use:   "toolsmith",
		Short: "toolsmith - agent tooling runtime",
		Long: `toolsmith serves a persona-scoped tool catalogue to an LLM host over
stdio, with YAML skills, auto-healing tool wrappers and a local event bus.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		// The bare command serves; "toolsmith --persona devops" is the
		// normal invocation from a host client config.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), logger, opts)
		},
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	addServeFlags(rootCmd, opts)
	rootCmd.AddCommand(buildServeCmd(logger))
	return rootCmd
}

// buildServeCmd creates the explicit "serve" subcommand; it behaves
// identically to the bare root invocation.
func buildServeCmd(logger *slog.Logger) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool catalogue over stdio",
		Example: `  # Serve a persona's tool set
  toolsmith serve --persona devops

  # Serve explicit modules without the event bus
  toolsmith serve --tools jira,gitlab --no-bus`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), logger, opts)
		},
	}
	addServeFlags(cmd, opts)
	return cmd
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to JSON configuration file")
	cmd.Flags().StringVar(&opts.serverName, "name", "toolsmith", "Server name announced in the host handshake")
	cmd.Flags().StringVar(&opts.persona, "persona", "", "Persona whose modules to load at boot")
	cmd.Flags().StringSliceVar(&opts.modules, "tools", nil, "Comma-separated module names to load at boot")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Load every module in the catalog")
	cmd.Flags().BoolVar(&opts.noBus, "no-bus", false, "Disable the websocket event bus")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
}

func runServe(ctx context.Context, logger *slog.Logger, opts *serveOptions) error {
	if err := validateServeOptions(opts); err != nil {
		return err
	}
	if opts.debug {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		slog.SetDefault(logger)
	}

	rt, err := runtime.New(runtime.Options{
		ConfigPath: opts.configPath,
		ServerName: opts.serverName,
		Version:    version,
		Persona:    opts.persona,
		Modules:    opts.modules,
		All:        opts.all,
		NoBus:      opts.noBus,
		Catalog:    builtinCatalog(),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	return rt.Run(ctx)
}

// validateServeOptions enforces the mutual exclusion of the three
// tool-set selectors.
func validateServeOptions(opts *serveOptions) error {
	selectors := 0
	if opts.persona != "" {
		selectors++
	}
	if len(opts.modules) > 0 {
		selectors++
	}
	if opts.all {
		selectors++
	}
	if selectors > 1 {
		var set []string
		if opts.persona != "" {
			set = append(set, "--persona")
		}
		if len(opts.modules) > 0 {
			set = append(set, "--tools")
		}
		if opts.all {
			set = append(set, "--all")
		}
		return fmt.Errorf("%w: %s are mutually exclusive", errUsage, strings.Join(set, ", "))
	}
	return nil
}
