package toolmods

import (
	"context"
	"strings"
	"testing"

	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

func loadOps(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil)
	if _, err := tools.LoadModule(reg, Ops()); err != nil {
		t.Fatalf("load ops module: %v", err)
	}
	return reg
}

func TestOpsModuleRegisters(t *testing.T) {
	reg := loadOps(t)
	for _, name := range []string{"refresh_credentials", "link_up"} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestRefreshCredentialsUnconfigured(t *testing.T) {
	t.Setenv(EnvRefreshCmd, "")
	reg := loadOps(t)

	out, err := reg.Execute(context.Background(), "refresh_credentials", map[string]any{"cluster": "stage"})
	if err != nil {
		t.Fatal(err)
	}
	if !tools.IsError(out) {
		t.Fatalf("expected error result, got: %s", out)
	}
	if !strings.Contains(out, EnvRefreshCmd) {
		t.Errorf("hint should name the env var: %s", out)
	}
}

func TestRefreshCredentialsRunsCommand(t *testing.T) {
	t.Setenv(EnvRefreshCmd, "echo login")
	reg := loadOps(t)

	out, err := reg.Execute(context.Background(), "refresh_credentials", map[string]any{"cluster": "prod"})
	if err != nil {
		t.Fatal(err)
	}
	if tools.IsError(out) {
		t.Fatalf("unexpected failure: %s", out)
	}
	if !strings.Contains(out, "prod") {
		t.Errorf("result should name the cluster: %s", out)
	}
}

func TestLinkUpFailingCommand(t *testing.T) {
	t.Setenv(EnvLinkUpCmd, "false")
	reg := loadOps(t)

	out, err := reg.Execute(context.Background(), "link_up", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !tools.IsError(out) {
		t.Fatalf("failing command must yield an error result, got: %s", out)
	}
}
