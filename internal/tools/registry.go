// Package tools maintains the live tool set served to the host protocol
// and the static manifest of everything the process has ever loaded.
// Registration wires a handler, a tier, a source location and an input
// schema together; the manifest keeps its record even after unload so the
// catalogue stays queryable.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tier is the loading tier a tool belongs to, enforced by which file the
// tool is declared in.
type Tier string

const (
	TierCore  Tier = "core"
	TierBasic Tier = "basic"
	TierExtra Tier = "extra"
	TierStyle Tier = "style"
)

// SourceLoc records where a tool's handler lives. Modules supply it at
// registration time; no reflection is involved.
type SourceLoc struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Handler is the async entry point of a tool. Failures at the tool level
// are returned as error-sentinel strings, not Go errors; a non-nil error
// means the handler itself broke.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is one named operation.
type Tool struct {
	Name        string
	Module      string
	Description string
	Tier        Tier
	Source      SourceLoc
	InputSchema json.RawMessage
	Handler     Handler

	compiled *jsonschema.Schema
}

// Binder mirrors live-set changes into the host protocol layer. The
// runtime implements it over the MCP server; tests use fakes or nil.
type Binder interface {
	BindTool(t *Tool)
	UnbindTool(name string)
}

// Registry holds the live tool map and the manifest.
type Registry struct {
	mu       sync.RWMutex
	live     map[string]*Tool
	manifest map[string]map[string]*Tool // module -> tool name -> record
	binder   Binder
}

// NewRegistry creates an empty registry. binder may be nil.
func NewRegistry(binder Binder) *Registry {
	return &Registry{
		live:     map[string]*Tool{},
		manifest: map[string]map[string]*Tool{},
		binder:   binder,
	}
}

// Register adds a tool to the live set and the manifest, replacing any
// live entry with the same name. The input schema is compiled here so a
// malformed schema fails the module load, not the first call.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool must have a name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: nil handler", t.Name)
	}
	if len(t.InputSchema) > 0 {
		compiled, err := jsonschema.CompileString(t.Name+".schema.json", string(t.InputSchema))
		if err != nil {
			return fmt.Errorf("tool %s: compile input schema: %w", t.Name, err)
		}
		t.compiled = compiled
	}

	r.mu.Lock()
	r.live[t.Name] = t
	mod := r.manifest[t.Module]
	if mod == nil {
		mod = map[string]*Tool{}
		r.manifest[t.Module] = mod
	}
	mod[t.Name] = t
	binder := r.binder
	r.mu.Unlock()

	if binder != nil {
		binder.BindTool(t)
	}
	return nil
}

// Unregister removes a tool from the live set. The manifest record stays.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, ok := r.live[name]
	delete(r.live, name)
	binder := r.binder
	r.mu.Unlock()

	if ok && binder != nil {
		binder.UnbindTool(name)
	}
}

// Get returns a live tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.live[name]
	return t, ok
}

// LiveNames returns a sorted snapshot of the live tool names.
func (r *Registry) LiveNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.live))
	for name := range r.live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether a tool name exists anywhere in the manifest.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, mod := range r.manifest {
		if _, ok := mod[name]; ok {
			return true
		}
	}
	return false
}

// ModuleOf returns the owning module of a known tool name.
func (r *Registry) ModuleOf(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for module, mod := range r.manifest {
		if _, ok := mod[name]; ok {
			return module, true
		}
	}
	return "", false
}

// ToolsOf returns the manifest records of a module, optionally filtered
// by tier. Pass an empty tier for all records.
func (r *Registry) ToolsOf(module string, tier Tier) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod := r.manifest[module]
	out := make([]*Tool, 0, len(mod))
	for _, t := range mod {
		if tier == "" || t.Tier == tier {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates args against the tool's schema and runs its handler.
// An unknown name or a schema violation yields an error-sentinel result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.live[name]
	r.mu.RUnlock()
	if !ok {
		if module, known := r.ModuleOf(name); known {
			return Errorf(CodeNotFound, fmt.Sprintf("tool %q is not loaded", name),
				map[string]string{"module": module}, "load a persona that includes this module"), nil
		}
		return Errorf(CodeNotFound, fmt.Sprintf("unknown tool %q", name), nil, ""), nil
	}

	if t.compiled != nil {
		// jsonschema validates decoded JSON values; args maps qualify as-is.
		var payload any = map[string]any{}
		if args != nil {
			payload = normalizeForSchema(args)
		}
		if err := t.compiled.Validate(payload); err != nil {
			return Errorf(CodeInvalidInput, err.Error(), map[string]string{"tool": name}, ""), nil
		}
	}
	return t.Handler(ctx, args)
}

// normalizeForSchema round-trips args through JSON so numeric types match
// what the schema validator expects (json.Number-free float64 values).
func normalizeForSchema(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}
