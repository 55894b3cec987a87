package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

type sessionKeyType struct{}

var sessionKey sessionKeyType

// WithSession tags a context with the calling session id so wrappers can
// attribute telemetry.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// SessionFromContext returns the session id a context carries, if any.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// hintRule maps substrings in an error body to a remediation hint.
type hintRule struct {
	needles []string
	hint    string
}

var hintRules = []hintRule{
	{
		needles: []string{"no route to host", "connection refused", "network is unreachable"},
		hint:    "the service looks unreachable; run the link_up tool to bring the VPN up",
	},
	{
		needles: []string{"unauthorized", "token expired", "401", "403"},
		hint:    "credentials look stale; run the refresh_credentials tool for the affected cluster",
	},
	{
		needles: []string{"gitlab_token", "gitlab token"},
		hint:    "set the GITLAB_TOKEN environment variable",
	},
	{
		needles: []string{"jira_token", "jira token"},
		hint:    "set the JIRA_API_TOKEN environment variable",
	},
}

// hintFor returns the first matching remediation hint for an error body.
func hintFor(body string) string {
	lower := strings.ToLower(body)
	for _, rule := range hintRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.hint
			}
		}
	}
	return ""
}

// SessionStats is the per-session telemetry the debug wrapper keeps.
type SessionStats struct {
	ToolCalls     int
	Failures      int
	LastFailure   string
	LastFailureAt time.Time
}

// Telemetry is the in-memory per-session counter store.
type Telemetry struct {
	mu        sync.Mutex
	bySession map[string]*SessionStats
}

// NewTelemetry creates an empty telemetry store.
func NewTelemetry() *Telemetry {
	return &Telemetry{bySession: map[string]*SessionStats{}}
}

// Record notes one tool call for a session.
func (tm *Telemetry) Record(sessionID, toolName, result string, failed bool) {
	if sessionID == "" {
		sessionID = "unattributed"
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	stats := tm.bySession[sessionID]
	if stats == nil {
		stats = &SessionStats{}
		tm.bySession[sessionID] = stats
	}
	stats.ToolCalls++
	if failed {
		stats.Failures++
		stats.LastFailure = toolName
		stats.LastFailureAt = time.Now()
	}
}

// Stats returns a copy of a session's counters.
func (tm *Telemetry) Stats(sessionID string) (SessionStats, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	stats, ok := tm.bySession[sessionID]
	if !ok {
		return SessionStats{}, false
	}
	return *stats, true
}

// WrapDebug decorates a handler so error-sentinel results gain a
// remediation hint and every call lands in the session telemetry.
func WrapDebug(toolName string, h Handler, tm *Telemetry) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		result, err := h(ctx, args)
		failed := err != nil || IsError(result)
		if tm != nil {
			tm.Record(SessionFromContext(ctx), toolName, result, failed)
		}
		if err != nil || !IsError(result) {
			return result, err
		}
		if hint := hintFor(result); hint != "" && !strings.Contains(result, "Hint:") {
			result += "\nHint: " + hint
		}
		return result, nil
	}
}

// SourceText reads the registered source range of a tool so the client
// can inspect the implementation behind a failure.
func SourceText(t *Tool) (string, error) {
	if t.Source.File == "" {
		return "", fmt.Errorf("tool %s has no recorded source location", t.Name)
	}
	f, err := os.Open(t.Source.File)
	if err != nil {
		return "", fmt.Errorf("open source of %s: %w", t.Name, err)
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line < t.Source.StartLine {
			continue
		}
		if t.Source.EndLine > 0 && line > t.Source.EndLine {
			break
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read source of %s: %w", t.Name, err)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("source range %d-%d of %s is empty", t.Source.StartLine, t.Source.EndLine, t.Name)
	}
	return b.String(), nil
}

// NewDebugTool builds the debug meta-tool: given a tool name, it returns
// the implementing source text from the manifest's recorded location.
func NewDebugTool(r *Registry) *Tool {
	return &Tool{
		Name:        "debug",
		Module:      "runtime_core",
		Description: "Return the source text of a registered tool so a fix can be proposed.",
		Tier:        TierCore,
		InputSchema: []byte(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			t, ok := r.Get(name)
			if !ok {
				// Fall back to the manifest so unloaded tools stay inspectable.
				if module, known := r.ModuleOf(name); known {
					for _, rec := range r.ToolsOf(module, "") {
						if rec.Name == name {
							t = rec
							ok = true
							break
						}
					}
				}
			}
			if !ok {
				return Errorf(CodeNotFound, fmt.Sprintf("unknown tool %q", name), nil, ""), nil
			}
			src, err := SourceText(t)
			if err != nil {
				return Errorf(CodeInternalError, err.Error(), map[string]string{"tool": name}, ""), nil
			}
			return Success(fmt.Sprintf("%s (%s:%d-%d)\n\n%s",
				t.Name, t.Source.File, t.Source.StartLine, t.Source.EndLine, src)), nil
		},
	}
}

// NewToolExecTool builds the dispatcher meta-tool that invokes any live
// tool by name. Extra-tier tools stay reachable through it without
// occupying a slot in the live catalogue. Known-but-unloaded tools get an
// explicit error naming the owning module; there is no load-on-demand.
func NewToolExecTool(r *Registry) *Tool {
	return &Tool{
		Name:        "tool_exec",
		Module:      "runtime_core",
		Description: "Invoke a tool by name with a JSON argument object.",
		Tier:        TierCore,
		InputSchema: []byte(`{"type":"object","properties":{"tool":{"type":"string"},"args":{"type":"object"}},"required":["tool"]}`),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, _ := args["tool"].(string)
			inner, _ := args["args"].(map[string]any)
			return r.Execute(ctx, name, inner)
		},
	}
}
