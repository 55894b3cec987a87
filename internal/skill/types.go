// Package skill loads declarative YAML workflows and executes them step
// by step through the tool registry, streaming progress to the event bus.
package skill

import (
	"time"

	"github.com/toolsmith-ai/toolsmith/internal/retry"
)

// InputType is the declared type of one skill input.
type InputType string

const (
	TypeString InputType = "string"
	TypeInt    InputType = "int"
	TypeBool   InputType = "bool"
	TypeList   InputType = "list"
	TypeMap    InputType = "map"
)

// OnError picks the failure strategy for a step.
type OnError string

const (
	OnErrorAbort    OnError = "abort"
	OnErrorContinue OnError = "continue"
	OnErrorRetry    OnError = "retry"
	OnErrorAutoHeal OnError = "auto_heal"
)

// Skill is one parsed workflow document.
type Skill struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Inputs      []Input `yaml:"inputs"`
	Steps       []Step  `yaml:"steps"`
	OnError     OnError `yaml:"on_error"`
}

// Input declares one invocation parameter.
type Input struct {
	Name     string    `yaml:"name"`
	Type     InputType `yaml:"type"`
	Required bool      `yaml:"required"`
	Default  any       `yaml:"default"`
}

// Step is one tool invocation inside a skill. Args values may contain
// template expressions over inputs, prior outputs, env and config.
type Step struct {
	Name      string         `yaml:"name"`
	Tool      string         `yaml:"tool"`
	Args      map[string]any `yaml:"args"`
	Output    string         `yaml:"output"`
	Condition string         `yaml:"condition"`
	Confirm   *Confirm       `yaml:"confirm"`
	OnError   OnError        `yaml:"on_error"`
	Retry     *RetryPolicy   `yaml:"retry"`
}

// Confirm pauses the step until an observer answers or the timeout
// lapses with the default.
type Confirm struct {
	Prompt         string   `yaml:"prompt"`
	Options        []string `yaml:"options"`
	Default        string   `yaml:"default"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// RetryPolicy tunes the retry strategy of a step.
type RetryPolicy struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	InitialDelay string  `yaml:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay"`
	Multiplier   float64 `yaml:"multiplier"`
}

// Config translates the policy to the retry package, falling back to
// its defaults for unset fields.
func (p *RetryPolicy) Config() retry.Config {
	cfg := retry.DefaultConfig()
	if p == nil {
		return cfg
	}
	if p.MaxAttempts > 0 {
		cfg.MaxAttempts = p.MaxAttempts
	}
	if d, err := time.ParseDuration(p.InitialDelay); err == nil && d > 0 {
		cfg.InitialDelay = d
	}
	if d, err := time.ParseDuration(p.MaxDelay); err == nil && d > 0 {
		cfg.MaxDelay = d
	}
	if p.Multiplier > 0 {
		cfg.Factor = p.Multiplier
	}
	return cfg
}

// stepOnError resolves a step's strategy against the skill default.
func (s *Skill) stepOnError(step *Step) OnError {
	if step.OnError != "" {
		return step.OnError
	}
	if s.OnError != "" {
		return s.OnError
	}
	return OnErrorAbort
}
