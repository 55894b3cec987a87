package skill

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validSkill = `
name: triage
description: triage one issue
inputs:
  - name: issue
    type: string
    required: true
  - name: limit
    type: int
    default: 10
steps:
  - name: fetch
    tool: jira_get
    args:
      issue: "{{ inputs.issue }}"
    output: ticket
  - name: comment
    tool: jira_comment
    args:
      issue: "{{ inputs.issue }}"
      body: "status is {{ outputs.ticket.status }}"
    condition: outputs.ticket.status == "Open"
    on_error: continue
`

func TestParseValidSkill(t *testing.T) {
	s, err := Parse([]byte(validSkill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "triage" || len(s.Steps) != 2 || len(s.Inputs) != 2 {
		t.Errorf("skill = %+v", s)
	}
	if s.Steps[1].OnError != OnErrorContinue {
		t.Errorf("step on_error = %q", s.Steps[1].OnError)
	}
	if s.Inputs[1].Default != 10 {
		t.Errorf("default = %v", s.Inputs[1].Default)
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"no steps",
			"name: empty\nsteps: []\n",
			"no steps",
		},
		{
			"duplicate step names",
			"name: dup\nsteps:\n  - {name: a, tool: x}\n  - {name: a, tool: y}\n",
			"duplicate step name",
		},
		{
			"bad input type",
			"name: bad\ninputs:\n  - {name: n, type: float}\nsteps:\n  - {name: a, tool: x}\n",
			"unknown type",
		},
		{
			"step without tool",
			"name: bad\nsteps:\n  - {name: a}\n",
			"no tool",
		},
		{
			"unknown on_error",
			"name: bad\nsteps:\n  - {name: a, tool: x, on_error: explode}\n",
			"unknown on_error",
		},
		{
			"unknown input reference",
			"name: bad\nsteps:\n  - name: a\n    tool: x\n    args: {v: \"{{ inputs.ghost }}\"}\n",
			"unknown input",
		},
		{
			"forward output reference",
			"name: bad\nsteps:\n  - name: a\n    tool: x\n    args: {v: \"{{ outputs.later }}\"}\n  - name: b\n    tool: y\n    output: later\n",
			"before it is bound",
		},
		{
			"duplicate output binding",
			"name: bad\nsteps:\n  - {name: a, tool: x, output: o}\n  - {name: b, tool: y, output: o}\n",
			"duplicate output",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestPreflightWarnsWithProviders(t *testing.T) {
	s, err := Parse([]byte(validSkill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	warnings := s.Preflight(ValidateOptions{
		LiveTool:  func(name string) bool { return name == "jira_get" },
		KnownTool: func(name string) bool { return false },
		Providers: func(tool string) []string {
			if tool == "jira_comment" {
				return []string{"devops", "support"}
			}
			return nil
		},
	})
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v", warnings)
	}
	if !strings.Contains(warnings[0], "jira_comment") || !strings.Contains(warnings[0], "devops, support") {
		t.Errorf("warning = %q", warnings[0])
	}

	// A manifest-known tool does not warn.
	warnings = s.Preflight(ValidateOptions{
		LiveTool:  func(string) bool { return false },
		KnownTool: func(string) bool { return true },
	})
	if len(warnings) != 0 {
		t.Errorf("manifest-known tools should pass preflight: %v", warnings)
	}
}

func TestLoadAndListNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "triage.yaml"), []byte(validSkill), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("not a skill"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	names, err := ListNames(dir)
	if err != nil {
		t.Fatalf("ListNames: %v", err)
	}
	if len(names) != 1 || names[0] != "triage" {
		t.Errorf("names = %v", names)
	}

	s, err := Load(dir, "triage")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "triage" {
		t.Errorf("Name = %q", s.Name)
	}

	if _, err := Load(dir, "ghost"); err == nil {
		t.Error("missing skill must error")
	}
}

func TestLibraryReloadAndGet(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "triage.yaml"), []byte(validSkill), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	lib, err := NewLibrary(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	if _, ok := lib.Get("triage"); !ok {
		t.Fatal("initial scan missed the skill")
	}

	second := strings.Replace(validSkill, "name: triage", "name: deploy", 1)
	if err := os.WriteFile(filepath.Join(dir, "deploy.yaml"), []byte(second), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := lib.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := lib.Names(); len(got) != 2 || got[0] != "deploy" || got[1] != "triage" {
		t.Errorf("Names = %v", got)
	}
}
