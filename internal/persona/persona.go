// Package persona swaps the live tool set at runtime. A persona is a
// named set of tool modules plus instruction text; switching to one
// unloads everything except the protected core and loads the declared
// modules in their place.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound reports a persona name with no YAML file behind it.
var ErrNotFound = errors.New("persona not found")

// Persona is one persona definition as parsed from YAML.
type Persona struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Modules       []string `yaml:"modules"`
	Prompt        string   `yaml:"prompt"`
	PromptAppend  string   `yaml:"prompt_append"`
	DefaultSkills []string `yaml:"default_skills"`
}

// Text joins the persona prose with the append block, if any.
func (p *Persona) Text() string {
	if p.PromptAppend == "" {
		return p.Prompt
	}
	if p.Prompt == "" {
		return p.PromptAppend
	}
	return p.Prompt + "\n\n" + p.PromptAppend
}

// Load reads one persona file from dir. The file name is the persona
// name plus ".yaml".
func Load(dir, name string) (*Persona, error) {
	path := filepath.Join(dir, name+".yaml")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read persona %s: %w", name, err)
	}
	var p Persona
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse persona %s: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return &p, nil
}

// List enumerates all parseable personas in dir, sorted by name.
func List(dir string) ([]*Persona, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persona dir: %w", err)
	}

	var out []*Persona
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		p, err := Load(dir, name)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
