package tools

import (
	"context"
	"strings"
	"testing"
)

func echoTool(name, module string, tier Tier) *Tool {
	return &Tool{
		Name:   name,
		Module: module,
		Tier:   tier,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return Success("ok from " + name), nil
		},
	}
}

func TestRegisterAndReplace(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(echoTool("jira_get_issue", "jira_core", TierCore)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	replacement := echoTool("jira_get_issue", "jira_core", TierCore)
	replacement.Handler = func(ctx context.Context, args map[string]any) (string, error) {
		return Success("replaced"), nil
	}
	if err := r.Register(replacement); err != nil {
		t.Fatalf("Register replacement: %v", err)
	}

	names := r.LiveNames()
	if len(names) != 1 {
		t.Fatalf("LiveNames = %v, want one entry", names)
	}
	out, err := r.Execute(context.Background(), "jira_get_issue", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "replaced") {
		t.Errorf("Execute = %q, want replacement handler output", out)
	}
}

func TestManifestSurvivesUnregister(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoTool("gl_create_mr", "gitlab_basic", TierBasic)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.Unregister("gl_create_mr")

	if _, ok := r.Get("gl_create_mr"); ok {
		t.Error("unregistered tool should not be live")
	}
	if !r.Known("gl_create_mr") {
		t.Error("manifest record should survive unload")
	}
	module, ok := r.ModuleOf("gl_create_mr")
	if !ok || module != "gitlab_basic" {
		t.Errorf("ModuleOf = %q, %v", module, ok)
	}
	recs := r.ToolsOf("gitlab_basic", TierBasic)
	if len(recs) != 1 {
		t.Errorf("ToolsOf = %d records, want 1", len(recs))
	}
}

func TestExecuteUnknownAndUnloaded(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoTool("k8s_get_pods", "kubernetes_core", TierCore)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Unregister("k8s_get_pods")

	t.Run("known but unloaded", func(t *testing.T) {
		out, err := r.Execute(context.Background(), "k8s_get_pods", nil)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !IsError(out) {
			t.Fatalf("expected error result, got %q", out)
		}
		if !strings.Contains(out, "kubernetes_core") {
			t.Errorf("error should name the owning module: %q", out)
		}
	})

	t.Run("entirely unknown", func(t *testing.T) {
		out, err := r.Execute(context.Background(), "nope", nil)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !IsError(out) || !strings.Contains(out, "unknown tool") {
			t.Errorf("unexpected result: %q", out)
		}
	})
}

func TestSchemaValidation(t *testing.T) {
	r := NewRegistry(nil)
	tool := echoTool("jira_transition", "jira_core", TierCore)
	tool.InputSchema = []byte(`{
		"type": "object",
		"properties": {
			"issue_key": {"type": "string"},
			"state": {"type": "string"}
		},
		"required": ["issue_key"]
	}`)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	t.Run("valid args", func(t *testing.T) {
		out, err := r.Execute(context.Background(), "jira_transition", map[string]any{"issue_key": "AAP-1"})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if IsError(out) {
			t.Errorf("valid args rejected: %q", out)
		}
	})

	t.Run("missing required", func(t *testing.T) {
		out, err := r.Execute(context.Background(), "jira_transition", map[string]any{"state": "done"})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !IsError(out) || !strings.Contains(out, CodeInvalidInput) {
			t.Errorf("missing required arg should fail validation: %q", out)
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		out, err := r.Execute(context.Background(), "jira_transition", map[string]any{"issue_key": 42})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !IsError(out) {
			t.Errorf("wrong-typed arg should fail validation: %q", out)
		}
	})

	t.Run("bad schema fails registration", func(t *testing.T) {
		bad := echoTool("broken", "jira_core", TierCore)
		bad.InputSchema = []byte(`{"type": 12}`)
		if err := r.Register(bad); err == nil {
			t.Error("expected registration error for malformed schema")
		}
	})
}

type fakeBinder struct {
	bound   []string
	unbound []string
}

func (b *fakeBinder) BindTool(t *Tool)       { b.bound = append(b.bound, t.Name) }
func (b *fakeBinder) UnbindTool(name string) { b.unbound = append(b.unbound, name) }

func TestBinderNotified(t *testing.T) {
	binder := &fakeBinder{}
	r := NewRegistry(binder)

	if err := r.Register(echoTool("a", "m", TierCore)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Unregister("a")
	r.Unregister("a") // second unregister of a gone tool is silent

	if len(binder.bound) != 1 || binder.bound[0] != "a" {
		t.Errorf("bound = %v", binder.bound)
	}
	if len(binder.unbound) != 1 {
		t.Errorf("unbound = %v, want one entry", binder.unbound)
	}
}
