package skill

import (
	"testing"
)

func testContext() *Context {
	return &Context{
		Inputs: map[string]any{
			"issue":   "AAP-1234",
			"count":   3,
			"dry_run": false,
		},
		Outputs: map[string]any{
			"fetch": map[string]any{"status": "Open", "assignee": "mel"},
			"log":   "plain text output",
		},
		Env:    map[string]string{"USER": "mel"},
		Config: map[string]any{"default_cluster": "stage"},
	}
}

func TestRenderPaths(t *testing.T) {
	ctx := testContext()
	tests := []struct {
		in   string
		want string
	}{
		{"issue {{ inputs.issue }}", "issue AAP-1234"},
		{"{{ outputs.fetch.status }}", "Open"},
		{"{{ outputs.log }}", "plain text output"},
		{"{{ env.USER }}@{{ config.default_cluster }}", "mel@stage"},
		{"{{ inputs.count }} retries", "3 retries"},
		{"no templates here", "no templates here"},
	}
	for _, tt := range tests {
		got, err := Render(tt.in, ctx)
		if err != nil {
			t.Errorf("Render(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderFilters(t *testing.T) {
	ctx := testContext()
	tests := []struct {
		in   string
		want string
	}{
		{"{{ inputs.missing | default:none }}", "none"},
		{`{{ inputs.missing | default:"n/a" }}`, "n/a"},
		{"{{ inputs.issue | lower }}", "aap-1234"},
		{"{{ outputs.fetch.assignee | upper }}", "MEL"},
		{"{{ inputs.issue | slugify }}", "aap-1234"},
		{"{{ outputs.fetch.status | json }}", `"Open"`},
	}
	for _, tt := range tests {
		got, err := Render(tt.in, ctx)
		if err != nil {
			t.Errorf("Render(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderRejectsUnresolved(t *testing.T) {
	ctx := testContext()
	if _, err := Render("{{ inputs.nope }}", ctx); err == nil {
		t.Error("unresolved input reference must error")
	}
	if _, err := Render("{{ outputs.later.field }}", ctx); err == nil {
		t.Error("unresolved output reference must error")
	}
	if _, err := Render("{{ bogus.root }}", ctx); err == nil {
		t.Error("unknown root must error")
	}
	if _, err := Render("{{ inputs.issue | reverse }}", ctx); err == nil {
		t.Error("unknown filter must error")
	}
}

func TestRenderIsPure(t *testing.T) {
	ctx := testContext()
	const tpl = "{{ inputs.issue | lower }}-{{ outputs.fetch.status | slugify }}"
	first, err := Render(tpl, ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i := 0; i < 50; i++ {
		got, err := Render(tpl, ctx)
		if err != nil || got != first {
			t.Fatalf("iteration %d: got %q (%v), want %q", i, got, err, first)
		}
	}
}

func TestResolveKeepsTypes(t *testing.T) {
	ctx := testContext()

	v, err := Resolve("{{ inputs.count }}", ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n, ok := v.(int); !ok || n != 3 {
		t.Errorf("single expression lost its type: %#v", v)
	}

	v, err = Resolve("{{ outputs.fetch }}", ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := v.(map[string]any); !ok {
		t.Errorf("map reference lost its type: %#v", v)
	}

	v, err = Resolve(map[string]any{
		"issue": "{{ inputs.issue }}",
		"tags":  []any{"{{ env.USER }}", "static"},
	}, ctx)
	if err != nil {
		t.Fatalf("Resolve nested: %v", err)
	}
	m := v.(map[string]any)
	if m["issue"] != "AAP-1234" {
		t.Errorf("issue = %v", m["issue"])
	}
	if tags := m["tags"].([]any); tags[0] != "mel" || tags[1] != "static" {
		t.Errorf("tags = %v", tags)
	}
}

func TestEvalCondition(t *testing.T) {
	ctx := testContext()
	tests := []struct {
		cond string
		want bool
	}{
		{`inputs.issue == "AAP-1234"`, true},
		{`inputs.issue != "AAP-1234"`, false},
		{"inputs.count > 2", true},
		{"inputs.count >= 4", false},
		{"inputs.count < 10", true},
		{`outputs.fetch.status == "Open"`, true},
		{"inputs.dry_run", false},
		{"inputs.issue", true},
		{`outputs.fetch.assignee == env.USER`, true},
		{"", true},
	}
	for _, tt := range tests {
		got, err := EvalCondition(tt.cond, ctx)
		if err != nil {
			t.Errorf("EvalCondition(%q): %v", tt.cond, err)
			continue
		}
		if got != tt.want {
			t.Errorf("EvalCondition(%q) = %v, want %v", tt.cond, got, tt.want)
		}
	}
}

func TestEvalConditionErrors(t *testing.T) {
	ctx := testContext()
	if _, err := EvalCondition("inputs.nope == 1", ctx); err == nil {
		t.Error("unresolved operand must error")
	}
}

func TestReferences(t *testing.T) {
	refs := References("{{ inputs.a }} and {{ outputs.b.c | upper }}")
	if len(refs) != 2 || refs[0] != "inputs.a" || refs[1] != "outputs.b.c" {
		t.Errorf("References = %v", refs)
	}

	refs = ConditionReferences(`inputs.issue == "literal"`)
	if len(refs) != 1 || refs[0] != "inputs.issue" {
		t.Errorf("ConditionReferences = %v", refs)
	}
}

func TestSlugify(t *testing.T) {
	if got := slugify("Fix: The  Bug!"); got != "fix-the-bug" {
		t.Errorf("slugify = %q", got)
	}
}
