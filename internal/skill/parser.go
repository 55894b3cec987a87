package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var validTypes = map[InputType]bool{
	TypeString: true,
	TypeInt:    true,
	TypeBool:   true,
	TypeList:   true,
	TypeMap:    true,
}

var validStrategies = map[OnError]bool{
	"":              true,
	OnErrorAbort:    true,
	OnErrorContinue: true,
	OnErrorRetry:    true,
	OnErrorAutoHeal: true,
}

// ValidateOptions carries the tool-awareness hooks used during
// pre-flight checks. Nil hooks skip the corresponding check.
type ValidateOptions struct {
	// LiveTool reports whether a tool is currently registered.
	LiveTool func(name string) bool
	// KnownTool reports whether a tool exists in the manifest even if
	// unloaded.
	KnownTool func(name string) bool
	// Providers names the personas whose modules would provide a tool.
	Providers func(tool string) []string
}

// Parse decodes one skill document and validates its internal structure.
func Parse(raw []byte) (*Skill, error) {
	var s Skill
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse skill: %w", err)
	}
	if err := s.validateStructure(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a skill by name from dir (<dir>/<name>.yaml).
func Load(dir, name string) (*Skill, error) {
	raw, err := os.ReadFile(filepath.Join(dir, name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("read skill %s: %w", name, err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("skill %s: %w", name, err)
	}
	if s.Name == "" {
		s.Name = name
	}
	return s, nil
}

// ListNames enumerates the skill names available under dir.
func ListNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read skill dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Skill) validateStructure() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("skill %s: no steps", s.Name)
	}
	if !validStrategies[s.OnError] {
		return fmt.Errorf("skill %s: unknown on_error %q", s.Name, s.OnError)
	}

	inputNames := map[string]bool{}
	for _, in := range s.Inputs {
		if in.Name == "" {
			return fmt.Errorf("skill %s: input without a name", s.Name)
		}
		if !validTypes[in.Type] {
			return fmt.Errorf("skill %s: input %s has unknown type %q", s.Name, in.Name, in.Type)
		}
		if inputNames[in.Name] {
			return fmt.Errorf("skill %s: duplicate input %s", s.Name, in.Name)
		}
		inputNames[in.Name] = true
	}

	stepNames := map[string]bool{}
	outputs := map[string]bool{}
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Name == "" {
			return fmt.Errorf("skill %s: step %d has no name", s.Name, i)
		}
		if step.Tool == "" {
			return fmt.Errorf("skill %s: step %s has no tool", s.Name, step.Name)
		}
		if stepNames[step.Name] {
			return fmt.Errorf("skill %s: duplicate step name %s", s.Name, step.Name)
		}
		stepNames[step.Name] = true
		if !validStrategies[step.OnError] {
			return fmt.Errorf("skill %s: step %s has unknown on_error %q", s.Name, step.Name, step.OnError)
		}

		if err := s.checkReferences(step, inputNames, outputs); err != nil {
			return err
		}
		if step.Output != "" {
			if outputs[step.Output] {
				return fmt.Errorf("skill %s: duplicate output binding %s", s.Name, step.Output)
			}
			outputs[step.Output] = true
		}
	}
	return nil
}

// checkReferences ensures every template in a step reads only declared
// inputs and outputs bound by earlier steps. Env and config references
// resolve at execution time and are not checked here.
func (s *Skill) checkReferences(step *Step, inputs, outputs map[string]bool) error {
	var refs []string
	refs = append(refs, collectArgReferences(step.Args)...)
	refs = append(refs, ConditionReferences(step.Condition)...)

	for _, ref := range refs {
		segments := strings.Split(ref, ".")
		switch segments[0] {
		case "inputs":
			if len(segments) < 2 || !inputs[segments[1]] {
				return fmt.Errorf("skill %s: step %s references unknown input %q", s.Name, step.Name, ref)
			}
		case "outputs":
			if len(segments) < 2 || !outputs[segments[1]] {
				return fmt.Errorf("skill %s: step %s references %q before it is bound", s.Name, step.Name, ref)
			}
		case "env", "config":
		default:
			return fmt.Errorf("skill %s: step %s has invalid template root in %q", s.Name, step.Name, ref)
		}
	}
	return nil
}

func collectArgReferences(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		refs = append(refs, References(val)...)
	case map[string]any:
		for _, item := range val {
			refs = append(refs, collectArgReferences(item)...)
		}
	case []any:
		for _, item := range val {
			refs = append(refs, collectArgReferences(item)...)
		}
	}
	return refs
}

// Preflight checks every step's tool against the live set and the
// manifest. Tools that exist nowhere produce a warning naming the
// personas that would provide them; nothing here blocks execution.
func (s *Skill) Preflight(opts ValidateOptions) []string {
	var warnings []string
	for _, step := range s.Steps {
		if opts.LiveTool != nil && opts.LiveTool(step.Tool) {
			continue
		}
		if opts.KnownTool != nil && opts.KnownTool(step.Tool) {
			continue
		}
		if opts.LiveTool == nil && opts.KnownTool == nil {
			continue
		}
		w := fmt.Sprintf("step %s: tool %q is not available", step.Name, step.Tool)
		if opts.Providers != nil {
			if providers := opts.Providers(step.Tool); len(providers) > 0 {
				w += fmt.Sprintf(" (provided by personas: %s)", strings.Join(providers, ", "))
			}
		}
		warnings = append(warnings, w)
	}
	return warnings
}
