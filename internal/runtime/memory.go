package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/toolsmith-ai/toolsmith/internal/state"
	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

// memorySection is the state-store section backing the builtin memory
// adapter.
const memorySection = "memory"

const memoryModuleName = "memory_core"

// memoryNote is one stored fact.
type memoryNote struct {
	Text      string   `json:"text"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at"`
}

// newMemoryModule exposes a small persistent note store over the state
// store. It stands in for the external memory adapters and keeps the
// protected memory tool names functional out of the box.
func newMemoryModule(store *state.Store) tools.ModuleFunc {
	return tools.ModuleFunc{
		UnitName: memoryModuleName,
		Register: func(reg *tools.Registry) (int, error) {
			entries := []*tools.Tool{
				{
					Name:        "memory_store",
					Module:      memoryModuleName,
					Description: "Store a note in persistent memory, optionally tagged.",
					Tier:        tools.TierCore,
					InputSchema: json.RawMessage(`{
						"type": "object",
						"properties": {
							"text": {"type": "string"},
							"tags": {"type": "array", "items": {"type": "string"}}
						},
						"required": ["text"]
					}`),
					Handler: memoryStoreHandler(store),
				},
				{
					Name:        "memory_search",
					Module:      memoryModuleName,
					Description: "Search stored notes by substring.",
					Tier:        tools.TierCore,
					InputSchema: json.RawMessage(`{
						"type": "object",
						"properties": {"query": {"type": "string"}},
						"required": ["query"]
					}`),
					Handler: memorySearchHandler(store, false),
				},
				{
					Name:        "memory_ask",
					Module:      memoryModuleName,
					Description: "Answer a question from stored notes.",
					Tier:        tools.TierCore,
					InputSchema: json.RawMessage(`{
						"type": "object",
						"properties": {"query": {"type": "string"}},
						"required": ["query"]
					}`),
					Handler: memorySearchHandler(store, true),
				},
				{
					Name:        "memory_health",
					Module:      memoryModuleName,
					Description: "Report the health of the memory adapters.",
					Tier:        tools.TierCore,
					Handler: func(ctx context.Context, args map[string]any) (string, error) {
						count := len(store.Section(memorySection))
						return tools.Success(fmt.Sprintf("memory healthy, %d notes stored", count)), nil
					},
				},
				{
					Name:        "memory_list_adapters",
					Module:      memoryModuleName,
					Description: "List the configured memory adapters.",
					Tier:        tools.TierCore,
					Handler: func(ctx context.Context, args map[string]any) (string, error) {
						return tools.Success("adapters: state-store"), nil
					},
				},
			}
			for _, t := range entries {
				if err := reg.Register(t); err != nil {
					return 0, err
				}
			}
			return len(entries), nil
		},
	}
}

func memoryStoreHandler(store *state.Store) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		if strings.TrimSpace(text) == "" {
			return tools.Errorf(tools.CodeInvalidInput, "text is required", nil, ""), nil
		}
		var tags []string
		if raw, ok := args["tags"].([]any); ok {
			for _, item := range raw {
				if tag, ok := item.(string); ok {
					tags = append(tags, tag)
				}
			}
		}

		id := uuid.NewString()
		store.Set(memorySection, id, memoryNote{
			Text:      text,
			Tags:      tags,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		})
		return tools.Success("stored note " + id), nil
	}
}

func memorySearchHandler(store *state.Store, joined bool) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		query = strings.ToLower(strings.TrimSpace(query))
		if query == "" {
			return tools.Errorf(tools.CodeInvalidInput, "query is required", nil, ""), nil
		}

		var hits []string
		for _, raw := range store.Section(memorySection) {
			note, ok := decodeNote(raw)
			if !ok {
				continue
			}
			haystack := strings.ToLower(note.Text + " " + strings.Join(note.Tags, " "))
			if strings.Contains(haystack, query) {
				hits = append(hits, note.Text)
			}
		}
		if len(hits) == 0 {
			return tools.Info(fmt.Sprintf("no stored notes match %q", query)), nil
		}
		sort.Strings(hits)
		if joined && len(hits) > 5 {
			hits = hits[:5]
		}
		return tools.Success(strings.Join(hits, "\n")), nil
	}
}

// decodeNote tolerates both live memoryNote values and the generic maps
// they become after a round trip through the JSON state file.
func decodeNote(raw any) (memoryNote, bool) {
	switch v := raw.(type) {
	case memoryNote:
		return v, true
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return memoryNote{}, false
		}
		var note memoryNote
		if err := json.Unmarshal(data, &note); err != nil {
			return memoryNote{}, false
		}
		return note, true
	default:
		return memoryNote{}, false
	}
}
