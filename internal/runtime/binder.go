package runtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

var defaultSchema = json.RawMessage(`{"type":"object"}`)

// toolPublisher is the slice of the host-protocol server the binder
// publishes through. *server.MCPServer satisfies it.
type toolPublisher interface {
	SetTools(tools ...server.ServerTool)
}

// mcpBinder mirrors the tool registry into the host-protocol server.
// Register and Unregister only stage the change here; Publish replaces
// the server's catalogue in one call, so a persona switch reaches the
// client as a single list_changed notification no matter how many tools
// it swapped.
type mcpBinder struct {
	srv toolPublisher
	reg *tools.Registry

	mu     sync.Mutex
	staged map[string]server.ServerTool
}

func newMCPBinder(srv toolPublisher) *mcpBinder {
	return &mcpBinder{srv: srv, staged: map[string]server.ServerTool{}}
}

func (b *mcpBinder) BindTool(t *tools.Tool) {
	schema := t.InputSchema
	if len(schema) == 0 {
		schema = defaultSchema
	}
	st := server.ServerTool{
		Tool:    mcp.NewToolWithRawSchema(t.Name, t.Description, schema),
		Handler: b.handlerFor(t.Name),
	}
	b.mu.Lock()
	b.staged[t.Name] = st
	b.mu.Unlock()
}

func (b *mcpBinder) UnbindTool(name string) {
	b.mu.Lock()
	delete(b.staged, name)
	b.mu.Unlock()
}

// ToolListChanged satisfies the persona loader's notifier by publishing
// the staged set. SetTools swaps the whole catalogue and emits the
// list_changed notification itself, exactly once.
func (b *mcpBinder) ToolListChanged() {
	b.mu.Lock()
	list := make([]server.ServerTool, 0, len(b.staged))
	for _, st := range b.staged {
		list = append(list, st)
	}
	b.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Tool.Name < list[j].Tool.Name })
	b.srv.SetTools(list...)
}

// handlerFor dispatches through the registry rather than closing over
// the tool, so re-registration swaps behavior without rebinding.
func (b *mcpBinder) handlerFor(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		if sessionID, ok := args["session_id"].(string); ok && sessionID != "" {
			ctx = tools.WithSession(ctx, sessionID)
		}

		out, err := b.reg.Execute(ctx, name, args)
		if err != nil {
			out = tools.Errorf(tools.CodeInternalError, err.Error(), map[string]string{"tool": name}, "")
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(out)},
			IsError: tools.IsError(out),
		}, nil
	}
}
