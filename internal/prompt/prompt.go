// Package prompt assembles the session super-prompt from named context
// sections with a rough token budget.
package prompt

import (
	"context"
	"fmt"
	"strings"
)

// Section names one context block. Sections concatenate in the canonical
// order below regardless of insertion order.
type Section string

const (
	SectionPersona Section = "persona"
	SectionSkills  Section = "skills"
	SectionMemory  Section = "memory"
	SectionJira    Section = "jira"
	SectionSlack   Section = "slack"
	SectionCode    Section = "code"
	SectionMeeting Section = "meeting"
	SectionCustom  Section = "custom"
)

var canonicalOrder = []Section{
	SectionPersona,
	SectionSkills,
	SectionMemory,
	SectionJira,
	SectionSlack,
	SectionCode,
	SectionMeeting,
	SectionCustom,
}

// CharsPerToken is the estimation heuristic: four characters per token.
const CharsPerToken = 4

// Default budget thresholds, in estimated tokens.
const (
	DefaultWarningTokens = 8000
	DefaultDangerTokens  = 12000
)

// IssueFetcher pulls issue context from a tracker. Injected so the
// builder itself stays free of transport concerns.
type IssueFetcher interface {
	FetchIssue(ctx context.Context, key string) (string, error)
}

// MemoryClient recalls stored context for a query.
type MemoryClient interface {
	Recall(ctx context.Context, query string) (string, error)
}

// Output is the assembled prompt plus its per-section accounting.
type Output struct {
	Text        string
	Tokens      map[Section]int
	TotalTokens int
	Warning     bool
	Danger      bool
}

// Builder accumulates sections. Zero value is not usable; call New.
type Builder struct {
	sections      map[Section][]string
	warningTokens int
	dangerTokens  int
}

// New returns an empty builder with the default budget thresholds.
func New() *Builder {
	return &Builder{
		sections:      map[Section][]string{},
		warningTokens: DefaultWarningTokens,
		dangerTokens:  DefaultDangerTokens,
	}
}

// SetBudget overrides the warning and danger thresholds.
func (b *Builder) SetBudget(warning, danger int) {
	if warning > 0 {
		b.warningTokens = warning
	}
	if danger > 0 {
		b.dangerTokens = danger
	}
}

// Add appends text to a section. Empty text is ignored.
func (b *Builder) Add(section Section, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.sections[section] = append(b.sections[section], text)
}

// AddPersona sets the persona instruction block.
func (b *Builder) AddPersona(text string) {
	b.Add(SectionPersona, text)
}

// AddSkills lists the skills available to the session.
func (b *Builder) AddSkills(names []string) {
	if len(names) == 0 {
		return
	}
	b.Add(SectionSkills, "Available skills: "+strings.Join(names, ", "))
}

// AddJiraIssue fetches one issue through the injected client and files
// it under the jira section.
func (b *Builder) AddJiraIssue(ctx context.Context, f IssueFetcher, key string) error {
	if f == nil {
		return fmt.Errorf("no issue fetcher configured")
	}
	text, err := f.FetchIssue(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch issue %s: %w", key, err)
	}
	b.Add(SectionJira, text)
	return nil
}

// AddMemory recalls stored context for a query and files it under the
// memory section.
func (b *Builder) AddMemory(ctx context.Context, m MemoryClient, query string) error {
	if m == nil {
		return fmt.Errorf("no memory client configured")
	}
	text, err := m.Recall(ctx, query)
	if err != nil {
		return fmt.Errorf("recall %q: %w", query, err)
	}
	b.Add(SectionMemory, text)
	return nil
}

// Build concatenates the populated sections in canonical order.
func (b *Builder) Build() Output {
	var sb strings.Builder
	out := Output{Tokens: map[Section]int{}}

	for _, section := range canonicalOrder {
		blocks := b.sections[section]
		if len(blocks) == 0 {
			continue
		}
		body := strings.Join(blocks, "\n\n")
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(title(section))
		sb.WriteString("\n\n")
		sb.WriteString(body)

		out.Tokens[section] = estimateTokens(body)
		out.TotalTokens += out.Tokens[section]
	}

	out.Text = sb.String()
	out.Warning = out.TotalTokens >= b.warningTokens
	out.Danger = out.TotalTokens >= b.dangerTokens
	return out
}

func estimateTokens(s string) int {
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}

func title(s Section) string {
	switch s {
	case SectionJira:
		return "Jira"
	case SectionSlack:
		return "Slack"
	default:
		return strings.ToUpper(string(s[0])) + string(s[1:])
	}
}
