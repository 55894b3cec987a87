// Package runtime wires the components together and drives the
// host-protocol loop.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/toolsmith-ai/toolsmith/internal/bus"
	"github.com/toolsmith-ai/toolsmith/internal/config"
	"github.com/toolsmith-ai/toolsmith/internal/heal"
	"github.com/toolsmith-ai/toolsmith/internal/persona"
	"github.com/toolsmith-ai/toolsmith/internal/skill"
	"github.com/toolsmith-ai/toolsmith/internal/state"
	"github.com/toolsmith-ai/toolsmith/internal/tools"
	"github.com/toolsmith-ai/toolsmith/internal/workspace"
)

// ErrStdio marks a failure to run the host-protocol loop over stdio.
var ErrStdio = errors.New("host-protocol stdio unavailable")

// Options is the boot configuration assembled by the CLI.
type Options struct {
	ConfigPath string
	ServerName string
	Version    string

	// Persona, Modules and All pick the initial tool set. The CLI
	// enforces their mutual exclusion.
	Persona string
	Modules []string
	All     bool

	NoBus bool

	// Catalog holds the compiled-in tool modules.
	Catalog *tools.Catalog

	// Roots resolves workspace URIs from the host client; nil falls
	// back to the default workspace.
	Roots workspace.RootsResolver

	Logger *slog.Logger
}

// Runtime owns one instance of every component and the shutdown order
// between them.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	mcp          *server.MCPServer
	binder       *mcpBinder
	registry     *tools.Registry
	catalog      *tools.Catalog
	loader       *persona.Loader
	workspaces   *workspace.Registry
	store        *state.Store
	bus          *bus.Bus
	library      *skill.Library
	engine       *skill.Engine
	faillog      *heal.FailureLog
	telemetry    *tools.Telemetry
	memoryModule tools.ModuleFunc

	opts Options
}

// New builds the runtime: config, state, workspaces, registry bound to
// the host-protocol server, core tools, skills, bus. Module loading per
// the options happens in Run, before serving.
func New(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := loadConfig(opts.ConfigPath, logger)
	if err != nil {
		return nil, err
	}

	stateDir := cfg.Paths.StateDir
	if stateDir == "" {
		stateDir = ".toolsmith"
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	store, err := state.Open(filepath.Join(stateDir, "state.json"), logger)
	if err != nil {
		return nil, err
	}

	roots := opts.Roots
	if roots == nil {
		roots = workspace.RootsFunc(func(context.Context) []string { return nil })
	}
	workspaces := workspace.NewRegistry(filepath.Join(stateDir, "workspaces.json"), roots, logger)
	if err := workspaces.RestoreIfEmpty(); err != nil {
		logger.Warn("workspace restore failed", "error", err)
	}

	name := opts.ServerName
	if name == "" {
		name = "toolsmith"
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	binder := newMCPBinder(mcpServer)
	registry := tools.NewRegistry(binder)
	binder.reg = registry

	rt := &Runtime{
		cfg:          cfg,
		logger:       logger,
		mcp:          mcpServer,
		binder:       binder,
		registry:     registry,
		workspaces:   workspaces,
		store:        store,
		faillog:      heal.NewFailureLog(filepath.Join(stateDir, "failures.yaml"), logger),
		telemetry:    tools.NewTelemetry(),
		memoryModule: newMemoryModule(store),
		opts:         opts,
	}

	if !opts.NoBus {
		rt.bus = bus.New(cfg.Integrations.BusAddr, logger)
	}

	library, err := skill.NewLibrary(cfg.Paths.Skills, logger)
	if err != nil {
		return nil, err
	}
	rt.library = library

	healOpts := rt.baseHealOptions()
	rt.engine = skill.NewEngine(registry, rt.busEvents(), templateConfig(cfg), &healOpts, logger)

	catalog := opts.Catalog
	if catalog == nil {
		catalog = tools.NewCatalog()
	}
	rt.catalog = rt.wrapCatalog(catalog)

	// Everything registerCoreTools installs must survive a persona switch.
	protected := append(persona.DefaultProtected(), "skill_list", "skill_run", "tool_exec")
	rt.loader = persona.NewLoader(cfg.Paths.Personas, registry, rt.catalog, protected, binder, logger)
	rt.loader.OnSwitch = func(ctx context.Context, personaName string) {
		ws := workspaces.GetForCtx(ctx)
		ws.Persona = personaName
		if err := workspaces.Save(); err != nil {
			logger.Warn("workspace save failed", "error", err)
		}
	}

	if err := rt.registerCoreTools(); err != nil {
		return nil, err
	}
	return rt, nil
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("config file missing, using defaults", "path", path)
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// templateConfig exposes a flat config view to skill templates.
func templateConfig(cfg *config.Config) map[string]any {
	return map[string]any{
		"default_cluster": cfg.Integrations.DefaultCluster,
		"bus_addr":        cfg.Integrations.BusAddr,
		"personas_dir":    cfg.Paths.Personas,
		"skills_dir":      cfg.Paths.Skills,
	}
}

// busEvents adapts the optional bus to the skill engine; nil means
// silent execution.
func (rt *Runtime) busEvents() skill.Events {
	if rt.bus == nil {
		return nil
	}
	return rt.bus
}

func (rt *Runtime) baseHealOptions() heal.Options {
	opts := heal.Options{
		Cluster:        heal.ClusterAuto,
		DefaultCluster: rt.cfg.Integrations.DefaultCluster,
		Fixer:          &registryFixer{reg: rt.registry},
		Log:            rt.faillog,
		Logger:         rt.logger,
	}
	if rt.bus != nil {
		opts.Notifier = rt.bus
	}
	return opts
}

// wrapCatalog rebuilds the provided catalog so every module's tools come
// out debug-wrapped, and heal-wrapped where the config says so.
func (rt *Runtime) wrapCatalog(src *tools.Catalog) *tools.Catalog {
	out := tools.NewCatalog()
	for _, name := range src.Names() {
		m, err := src.Resolve(name)
		if err != nil {
			continue
		}
		out.Add(rt.wrapModule(m))
	}
	return out
}

func (rt *Runtime) wrapModule(m tools.Module) tools.Module {
	return tools.ModuleFunc{
		UnitName: m.Name(),
		Register: func(reg *tools.Registry) (int, error) {
			n, err := m.RegisterTools(reg)
			if err != nil {
				return n, err
			}
			// The staging registry holds exactly this module's tools.
			for _, toolName := range reg.LiveNames() {
				t, ok := reg.Get(toolName)
				if !ok {
					continue
				}
				t.Handler = rt.wrapHandler(toolName, t.Handler)
				if err := reg.Register(t); err != nil {
					return n, err
				}
			}
			return n, nil
		},
	}
}

// wrapHandler applies the standard wrapper chain: auto-heal first where
// configured, then debug hints and telemetry outermost.
func (rt *Runtime) wrapHandler(toolName string, h tools.Handler) tools.Handler {
	if entry, ok := rt.cfg.HealEntry(toolName); ok {
		opts := rt.baseHealOptions()
		opts.MaxRetries = entry.MaxRetries
		if entry.Cluster != "" {
			opts.Cluster = entry.Cluster
		}
		h = heal.Wrap(toolName, h, opts)
	}
	return tools.WrapDebug(toolName, h, rt.telemetry)
}

// loadInitialModules applies the --persona / --tools / --all choice and
// publishes the boot tool set once. The persona path publishes through
// the loader; the others publish here.
func (rt *Runtime) loadInitialModules(ctx context.Context) error {
	switch {
	case rt.opts.Persona != "":
		res, err := rt.loader.Switch(ctx, rt.opts.Persona)
		if err != nil {
			return fmt.Errorf("load persona %s: %w", rt.opts.Persona, err)
		}
		for _, e := range res.Errors {
			rt.logger.Warn("module failed during boot", "module", e.Module, "error", e.Err)
		}
		return nil
	case rt.opts.All:
		for _, name := range rt.catalog.Names() {
			if err := rt.loadModule(name); err != nil {
				rt.logger.Warn("module failed during boot", "module", name, "error", err)
			}
		}
	default:
		for _, name := range rt.opts.Modules {
			if err := rt.loadModule(name); err != nil {
				return err
			}
		}
	}
	rt.binder.ToolListChanged()
	return nil
}

func (rt *Runtime) loadModule(name string) error {
	m, err := rt.catalog.Resolve(name)
	if err != nil {
		return err
	}
	names, err := tools.LoadModule(rt.registry, m)
	if err != nil {
		return err
	}
	rt.logger.Info("module loaded", "module", m.Name(), "tools", len(names))
	return nil
}

// Run loads the initial modules, starts the long-running services and
// blocks on the host-protocol loop. Shutdown drains the state store,
// saves workspaces and closes the bus.
func (rt *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := rt.loadInitialModules(ctx); err != nil {
		return err
	}
	rt.logger.Info("runtime ready",
		"tools", len(rt.registry.LiveNames()),
		"skills", len(rt.library.Names()),
		"bus", rt.bus != nil)

	g, gctx := errgroup.WithContext(ctx)

	if rt.bus != nil {
		g.Go(func() error { return rt.supervise(gctx, "bus", rt.bus.Start) })
	}
	g.Go(func() error { return rt.supervise(gctx, "skill-watch", rt.library.Watch) })
	g.Go(func() error {
		rt.cleanupLoop(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		stdio := server.NewStdioServer(rt.mcp)
		if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", ErrStdio, err)
		}
		return nil
	})

	err := g.Wait()
	rt.shutdown()
	return err
}

// supervise restarts a long-running service after a failure instead of
// taking the process down; only the stdio loop is fatal.
func (rt *Runtime) supervise(ctx context.Context, name string, run func(context.Context) error) error {
	for {
		err := run(ctx)
		if ctx.Err() != nil || err == nil {
			return nil
		}
		rt.logger.Error("service failed, restarting", "service", name, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// cleanupLoop prunes stale sessions once an hour.
func (rt *Runtime) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := rt.workspaces.CleanupStale(workspace.StalenessThreshold); removed > 0 {
				rt.logger.Info("stale sessions removed", "count", removed)
				if err := rt.workspaces.Save(); err != nil {
					rt.logger.Warn("workspace save failed", "error", err)
				}
			}
		}
	}
}

func (rt *Runtime) shutdown() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("state flush on shutdown failed", "error", err)
	}
	if err := rt.workspaces.SaveNow(); err != nil {
		rt.logger.Warn("workspace save on shutdown failed", "error", err)
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	rt.logger.Info("runtime stopped")
}

// registryFixer satisfies the heal fixer by dispatching to the live
// remediation tools, when a loaded module provides them.
type registryFixer struct {
	reg *tools.Registry
}

func (f *registryFixer) RefreshCredentials(ctx context.Context, cluster string) (bool, error) {
	out, err := f.reg.Execute(ctx, "refresh_credentials", map[string]any{"cluster": cluster})
	if err != nil {
		return false, err
	}
	return !tools.IsError(out), nil
}

func (f *registryFixer) LinkUp(ctx context.Context) (bool, error) {
	out, err := f.reg.Execute(ctx, "link_up", map[string]any{})
	if err != nil {
		return false, err
	}
	return !tools.IsError(out), nil
}
