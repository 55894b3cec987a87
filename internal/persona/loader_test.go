package persona

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stubTool(name, module string) *tools.Tool {
	return &tools.Tool{
		Name:   name,
		Module: module,
		Tier:   tools.TierCore,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return tools.Success(name), nil
		},
	}
}

func stubModule(module string, names ...string) tools.ModuleFunc {
	return tools.ModuleFunc{
		UnitName: module,
		Register: func(reg *tools.Registry) (int, error) {
			for _, name := range names {
				if err := reg.Register(stubTool(name, module)); err != nil {
					return 0, err
				}
			}
			return len(names), nil
		},
	}
}

func writePersona(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
}

type countingNotifier struct{ calls int }

func (n *countingNotifier) ToolListChanged() { n.calls++ }

func newFixture(t *testing.T) (string, *tools.Registry, *tools.Catalog) {
	t.Helper()
	dir := t.TempDir()
	reg := tools.NewRegistry(nil)
	cat := tools.NewCatalog()
	cat.Add(stubModule("jira_core", "jira_get", "jira_search"))
	cat.Add(stubModule("gitlab_core", "gl_mr_list"))
	cat.Add(stubModule("slack_core", "slack_post"))
	return dir, reg, cat
}

func liveSet(reg *tools.Registry) []string {
	names := reg.LiveNames()
	sort.Strings(names)
	return names
}

func TestSwitchReplacesNonProtected(t *testing.T) {
	dir, reg, cat := newFixture(t)
	writePersona(t, dir, "devops", "name: devops\nmodules: [jira_core, gitlab_core]\nprompt: ops first\n")
	writePersona(t, dir, "developer", "name: developer\nmodules: [jira_core, slack_core]\n")

	for _, name := range []string{"debug", "persona_load"} {
		if err := reg.Register(stubTool(name, "runtime_core")); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	n := &countingNotifier{}
	l := NewLoader(dir, reg, cat, nil, n, discardLogger())

	res, err := l.Switch(context.Background(), "devops")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if res.ToolCount != 3 || len(res.Errors) != 0 {
		t.Errorf("result = %+v", res)
	}
	if res.PersonaText != "ops first" {
		t.Errorf("PersonaText = %q", res.PersonaText)
	}
	want := []string{"debug", "gl_mr_list", "jira_get", "jira_search", "persona_load"}
	if got := liveSet(reg); !equal(got, want) {
		t.Errorf("live = %v, want %v", got, want)
	}

	if _, err := l.Switch(context.Background(), "developer"); err != nil {
		t.Fatalf("Switch developer: %v", err)
	}
	want = []string{"debug", "jira_get", "jira_search", "persona_load", "slack_post"}
	if got := liveSet(reg); !equal(got, want) {
		t.Errorf("after second switch live = %v, want %v", got, want)
	}
	if n.calls != 2 {
		t.Errorf("tool-list-changed fired %d times, want 2", n.calls)
	}
	if l.Current() != "developer" {
		t.Errorf("Current = %q", l.Current())
	}
}

func TestSwitchPartialFailureContinues(t *testing.T) {
	dir, reg, cat := newFixture(t)
	cat.Add(tools.ModuleFunc{
		UnitName: "broken_core",
		Register: func(reg *tools.Registry) (int, error) {
			return 0, errors.New("import cycle")
		},
	})
	writePersona(t, dir, "mixed", "name: mixed\nmodules: [jira_core, broken_core, slack_core]\n")

	n := &countingNotifier{}
	l := NewLoader(dir, reg, cat, nil, n, discardLogger())

	res, err := l.Switch(context.Background(), "mixed")
	if err != nil {
		t.Fatalf("partial failure must not abort the switch: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Module != "broken_core" {
		t.Errorf("Errors = %v", res.Errors)
	}
	want := []string{"jira_get", "jira_search", "slack_post"}
	if got := liveSet(reg); !equal(got, want) {
		t.Errorf("live = %v, want surviving modules %v", got, want)
	}
	if n.calls != 1 {
		t.Error("notification must fire even on partial failure")
	}
}

func TestSwitchUnknownPersona(t *testing.T) {
	dir, reg, cat := newFixture(t)
	l := NewLoader(dir, reg, cat, nil, nil, discardLogger())

	_, err := l.Switch(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if len(reg.LiveNames()) != 0 {
		t.Error("failed lookup must not touch the registry")
	}
}

func TestSwitchUnresolvableModuleRecorded(t *testing.T) {
	dir, reg, cat := newFixture(t)
	writePersona(t, dir, "typo", "name: typo\nmodules: [jira_core, jenkins_core]\n")

	l := NewLoader(dir, reg, cat, nil, nil, discardLogger())
	res, err := l.Switch(context.Background(), "typo")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Module != "jenkins_core" {
		t.Errorf("Errors = %v", res.Errors)
	}
	if res.ToolCount != 2 {
		t.Errorf("ToolCount = %d", res.ToolCount)
	}
}

func TestSwitchUpdatesWorkspace(t *testing.T) {
	dir, reg, cat := newFixture(t)
	writePersona(t, dir, "devops", "name: devops\nmodules: [jira_core]\n")

	var recorded string
	l := NewLoader(dir, reg, cat, nil, nil, discardLogger())
	l.OnSwitch = func(ctx context.Context, persona string) { recorded = persona }

	if _, err := l.Switch(context.Background(), "devops"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if recorded != "devops" {
		t.Errorf("workspace hook saw %q", recorded)
	}
}

func TestCustomProtectedSet(t *testing.T) {
	dir, reg, cat := newFixture(t)
	writePersona(t, dir, "devops", "name: devops\nmodules: [gitlab_core]\n")

	if err := reg.Register(stubTool("keep_me", "runtime_core")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(stubTool("drop_me", "runtime_core")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	l := NewLoader(dir, reg, cat, []string{"keep_me"}, nil, discardLogger())
	if _, err := l.Switch(context.Background(), "devops"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	want := []string{"gl_mr_list", "keep_me"}
	if got := liveSet(reg); !equal(got, want) {
		t.Errorf("live = %v, want %v", got, want)
	}
	if !l.Protected("keep_me") || l.Protected("drop_me") {
		t.Error("Protected set mismatch")
	}
}

func TestPersonaText(t *testing.T) {
	p := &Persona{Prompt: "base", PromptAppend: "extra"}
	if got := p.Text(); got != "base\n\nextra" {
		t.Errorf("Text = %q", got)
	}
	p = &Persona{PromptAppend: "only append"}
	if got := p.Text(); got != "only append" {
		t.Errorf("Text = %q", got)
	}
}

func TestListSorted(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "zeta", "name: zeta\nmodules: []\n")
	writePersona(t, dir, "alpha", "name: alpha\nmodules: [jira_core]\ndefault_skills: [triage]\n")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Name != "alpha" || got[1].Name != "zeta" {
		t.Errorf("List = %v", got)
	}
	if len(got[0].DefaultSkills) != 1 || got[0].DefaultSkills[0] != "triage" {
		t.Errorf("default skills = %v", got[0].DefaultSkills)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
