package persona

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

// DefaultProtected is the tool-name set that survives every switch.
func DefaultProtected() []string {
	return []string{
		"session_start",
		"persona_load",
		"persona_list",
		"debug",
		"memory_ask",
		"memory_search",
		"memory_store",
		"memory_health",
		"memory_list_adapters",
	}
}

// Notifier tells the connected client its tool list changed. The host
// protocol server implements it.
type Notifier interface {
	ToolListChanged()
}

// ModuleError records one module that failed to load during a switch.
type ModuleError struct {
	Module string
	Err    error
}

func (e ModuleError) Error() string {
	return fmt.Sprintf("module %s: %v", e.Module, e.Err)
}

// SwitchResult reports the outcome of one persona switch. Errors is
// non-empty on partial failure; the surviving modules are still live.
type SwitchResult struct {
	Persona     string
	ToolCount   int
	PersonaText string
	Errors      []ModuleError
}

// Loader owns the current persona and drives registry mutations. All
// registry writes happen under its mutex.
type Loader struct {
	mu        sync.Mutex
	dir       string
	registry  *tools.Registry
	catalog   *tools.Catalog
	protected map[string]bool
	notifier  Notifier
	logger    *slog.Logger

	// OnSwitch, when set, records the new persona on the calling
	// workspace. Called under the loader mutex.
	OnSwitch func(ctx context.Context, persona string)

	current string
}

// NewLoader builds a loader over dir. protected seeds the survivor set;
// nil means DefaultProtected.
func NewLoader(dir string, reg *tools.Registry, catalog *tools.Catalog, protected []string, notifier Notifier, logger *slog.Logger) *Loader {
	if protected == nil {
		protected = DefaultProtected()
	}
	set := make(map[string]bool, len(protected))
	for _, name := range protected {
		set[name] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:       dir,
		registry:  reg,
		catalog:   catalog,
		protected: set,
		notifier:  notifier,
		logger:    logger,
	}
}

// Current returns the active persona name, empty before the first switch.
func (l *Loader) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Protected reports whether a tool name survives switches.
func (l *Loader) Protected(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.protected[name]
}

// Switch replaces all non-protected tools with the named persona's
// modules. A module failing to load does not abort the rest; failed
// modules are returned in SwitchResult.Errors and the change
// notification fires regardless, because a partial persona still beats
// an empty catalogue.
func (l *Loader) Switch(ctx context.Context, name string) (*SwitchResult, error) {
	p, err := Load(l.dir, name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, live := range l.registry.LiveNames() {
		if !l.protected[live] {
			l.registry.Unregister(live)
		}
	}

	res := &SwitchResult{Persona: p.Name, PersonaText: p.Text()}
	for _, moduleName := range p.Modules {
		m, err := l.catalog.Resolve(moduleName)
		if err != nil {
			res.Errors = append(res.Errors, ModuleError{Module: moduleName, Err: err})
			continue
		}
		names, err := tools.LoadModule(l.registry, m)
		if err != nil {
			res.Errors = append(res.Errors, ModuleError{Module: moduleName, Err: err})
			continue
		}
		res.ToolCount += len(names)
		l.logger.Debug("module loaded", "persona", p.Name, "module", m.Name(), "tools", len(names))
	}

	l.current = p.Name
	if l.OnSwitch != nil {
		l.OnSwitch(ctx, p.Name)
	}
	if l.notifier != nil {
		l.notifier.ToolListChanged()
	}

	if len(res.Errors) > 0 {
		sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Module < res.Errors[j].Module })
		l.logger.Warn("persona loaded with failures",
			"persona", p.Name, "tools", res.ToolCount, "failed_modules", len(res.Errors))
	} else {
		l.logger.Info("persona loaded", "persona", p.Name, "tools", res.ToolCount)
	}
	return res, nil
}

// List enumerates the personas available to Switch.
func (l *Loader) List() ([]*Persona, error) {
	return List(l.dir)
}
