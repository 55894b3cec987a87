package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Module is a unit of tool packaging. Implementations live in the tool
// packages and register their operations when a persona loads them.
type Module interface {
	// Name is the unit name including any tier suffix (jira_core,
	// jira_basic, jira_extra, jira_style, or a legacy bare name).
	Name() string

	// RegisterTools registers the module's tools and returns how many.
	RegisterTools(reg *Registry) (int, error)
}

// tierSuffixes are the recognized unit-name suffixes.
var tierSuffixes = []string{"_core", "_basic", "_extra", "_style"}

// Catalog maps unit names to modules. Tool packages add themselves at
// wiring time; the persona loader resolves logical names through it.
type Catalog struct {
	mu    sync.RWMutex
	units map[string]Module
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{units: map[string]Module{}}
}

// Add registers a module unit. Later adds replace earlier ones.
func (c *Catalog) Add(m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units[m.Name()] = m
}

// Names returns the sorted unit names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.units))
	for name := range c.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a logical module name to a unit. Suffixed names resolve
// exactly; a bare name tries the core unit, then basic, then a legacy
// single-file unit under the bare name itself.
func (c *Catalog) Resolve(name string) (Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, suffix := range tierSuffixes {
		if strings.HasSuffix(name, suffix) {
			if m, ok := c.units[name]; ok {
				return m, nil
			}
			return nil, fmt.Errorf("module %q not found", name)
		}
	}

	for _, candidate := range []string{name + "_core", name + "_basic", name} {
		if m, ok := c.units[candidate]; ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("module %q not found (tried %s_core, %s_basic, %s)", name, name, name, name)
}

// LoadModule loads a module atomically: its tools register into a staging
// registry first, so a failing module leaves the live registry untouched.
// Returns the names the module contributed.
func LoadModule(r *Registry, m Module) ([]string, error) {
	staging := NewRegistry(nil)
	if _, err := m.RegisterTools(staging); err != nil {
		return nil, fmt.Errorf("module %s: %w", m.Name(), err)
	}

	names := staging.LiveNames()
	for _, name := range names {
		t, _ := staging.Get(name)
		if t.Module == "" {
			t.Module = m.Name()
		}
		if err := r.Register(t); err != nil {
			// Registration after a successful stage only fails on
			// registry-level problems; unwind what we committed.
			for _, committed := range names {
				if committed == name {
					break
				}
				r.Unregister(committed)
			}
			return nil, fmt.Errorf("module %s: %w", m.Name(), err)
		}
	}
	return names, nil
}

// ModuleFunc adapts a name and a register function to the Module interface.
type ModuleFunc struct {
	UnitName string
	Register func(reg *Registry) (int, error)
}

func (m ModuleFunc) Name() string { return m.UnitName }

func (m ModuleFunc) RegisterTools(reg *Registry) (int, error) {
	return m.Register(reg)
}
