package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/toolsmith-ai/toolsmith/internal/debounce"
	"github.com/toolsmith-ai/toolsmith/internal/state"
)

// saveInterval is the minimum spacing between registry writes. The
// registry throttles rather than debounces: a burst saves once now, not
// once later, and shutdown forces a final write.
const saveInterval = 5 * time.Second

// RootsResolver extracts workspace root URIs from a host-protocol
// request context. The host side implements it; tests inject fakes.
type RootsResolver interface {
	Roots(ctx context.Context) []string
}

// RootsFunc adapts a function to the RootsResolver interface.
type RootsFunc func(ctx context.Context) []string

func (f RootsFunc) Roots(ctx context.Context) []string { return f(ctx) }

// Registry maps workspace URIs to workspaces and persists the whole map
// to a single JSON file. The orchestrator owns the one instance.
type Registry struct {
	mu       sync.Mutex
	path     string
	byURI    map[string]*Workspace
	order    []string
	resolver RootsResolver
	throttle *debounce.Throttle
	nowFunc  func() time.Time
	logger   *slog.Logger
}

// NewRegistry creates a registry persisting to path.
func NewRegistry(path string, resolver RootsResolver, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		path:     path,
		byURI:    map[string]*Workspace{},
		resolver: resolver,
		throttle: debounce.NewThrottle(saveInterval),
		nowFunc:  time.Now,
		logger:   logger,
	}
}

// SetNowFunc sets a custom time function for testing.
func (r *Registry) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = fn
}

// GetOrCreate returns the workspace for uri, creating it on first sight.
func (r *Registry) GetOrCreate(uri string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(uri)
}

func (r *Registry) getOrCreateLocked(uri string) *Workspace {
	if uri == "" {
		uri = DefaultURI
	}
	if w, ok := r.byURI[uri]; ok {
		return w
	}
	w := &Workspace{
		URI:       uri,
		Sessions:  map[string]*Session{},
		CreatedAt: r.nowFunc(),
	}
	r.byURI[uri] = w
	r.order = append(r.order, uri)
	return w
}

// GetForCtx resolves the calling workspace from a host-protocol context.
// The first announced root wins; no roots means the default URI.
func (r *Registry) GetForCtx(ctx context.Context) *Workspace {
	uri := DefaultURI
	if r.resolver != nil {
		if roots := r.resolver.Roots(ctx); len(roots) > 0 && roots[0] != "" {
			uri = roots[0]
		}
	}
	return r.GetOrCreate(uri)
}

// All returns workspaces in insertion order.
func (r *Registry) All() []*Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Workspace, 0, len(r.order))
	for _, uri := range r.order {
		out = append(out, r.byURI[uri])
	}
	return out
}

// Save persists the registry, at most once per throttle interval.
func (r *Registry) Save() error {
	if !r.throttle.Allow() {
		return nil
	}
	return r.saveNow()
}

// SaveNow persists unconditionally. Shutdown uses this.
func (r *Registry) SaveNow() error {
	r.throttle.Force()
	return r.saveNow()
}

func (r *Registry) saveNow() error {
	r.mu.Lock()
	raw, err := json.MarshalIndent(r.byURI, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal workspaces: %w", err)
	}

	return state.WithFileLock(r.path+".lock", func() error {
		tmp := r.path + ".tmp"
		if err := os.WriteFile(tmp, raw, 0o644); err != nil {
			return fmt.Errorf("write workspaces file: %w", err)
		}
		return os.Rename(tmp, r.path)
	})
}

// RestoreIfEmpty loads the registry from disk when nothing is in memory.
// Called once at boot; a missing file is not an error.
func (r *Registry) RestoreIfEmpty() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byURI) > 0 {
		return nil
	}

	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read workspaces file: %w", err)
	}

	var byURI map[string]*Workspace
	if err := json.Unmarshal(raw, &byURI); err != nil {
		return fmt.Errorf("parse workspaces file: %w", err)
	}

	r.byURI = map[string]*Workspace{}
	r.order = nil
	for uri, w := range byURI {
		if w == nil {
			continue
		}
		w.URI = uri
		if w.Sessions == nil {
			w.Sessions = map[string]*Session{}
		}
		// Drop a dangling active pointer so the invariant holds.
		if w.ActiveSession != "" {
			if _, ok := w.Sessions[w.ActiveSession]; !ok {
				w.ActiveSession = ""
			}
		}
		r.byURI[uri] = w
	}
	for uri := range r.byURI {
		r.order = append(r.order, uri)
	}
	sort.Slice(r.order, func(i, j int) bool {
		return r.byURI[r.order[i]].CreatedAt.Before(r.byURI[r.order[j]].CreatedAt)
	})
	return nil
}

// CleanupStale removes sessions whose last activity is older than the
// threshold. The active session of a workspace is never removed.
// Returns the number of sessions dropped.
func (r *Registry) CleanupStale(threshold time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.nowFunc().Add(-threshold)
	removed := 0
	for _, uri := range r.order {
		w := r.byURI[uri]
		for _, id := range append([]string(nil), w.SessionOrder...) {
			s := w.Sessions[id]
			if s == nil {
				continue
			}
			if id == w.ActiveSession {
				continue
			}
			if s.LastActivity.Before(cutoff) {
				w.removeSession(id)
				removed++
			}
		}
	}
	if removed > 0 {
		r.logger.Info("cleaned up stale sessions", "removed", removed)
	}
	return removed
}
