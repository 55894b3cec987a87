package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolsmith-ai/toolsmith/internal/bus"
	"github.com/toolsmith-ai/toolsmith/internal/heal"
	"github.com/toolsmith-ai/toolsmith/internal/retry"
	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

// Status is the lifecycle state of one execution.
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusReady      Status = "ready"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

// ToolRunner dispatches one tool invocation. The tool registry satisfies
// it.
type ToolRunner interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Events receives execution progress. The event bus satisfies it; tests
// substitute a recorder.
type Events interface {
	SkillStarted(id, name string, stepCount int, inputs map[string]any)
	SkillCompleted(id, name string, duration time.Duration)
	SkillFailed(id, name, errText string, duration time.Duration)
	StepStarted(skillID string, index int, name string)
	StepCompleted(skillID string, index int, name string, duration time.Duration)
	StepFailed(skillID string, index int, name, errText string)
	StepSkipped(skillID string, index int, name string)
	RequestConfirmation(req bus.ConfirmationRequest) <-chan bus.Answer
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Name     string
	Tool     string
	Status   string // completed, failed, skipped
	Output   string
	Err      string
	Duration time.Duration
}

// Result is the execution record returned to the caller. Status moves
// through pending, validating, ready and running, and ends on
// completed, failed or aborted.
type Result struct {
	ExecutionID string
	Status      Status
	Outputs     map[string]any
	Steps       []StepResult
	Duration    time.Duration
}

// Engine executes skills. It is re-entrant: concurrent executions share
// nothing but the engine's immutable collaborators.
type Engine struct {
	runner   ToolRunner
	events   Events
	config   map[string]any
	healOpts *heal.Options
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine builds an engine. healOpts may be nil to disable the
// auto_heal strategy's fix round.
func NewEngine(runner ToolRunner, events Events, config map[string]any, healOpts *heal.Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = nopEvents{}
	}
	return &Engine{
		runner:   runner,
		events:   events,
		config:   config,
		healOpts: healOpts,
		logger:   logger,
		cancels:  map[string]context.CancelFunc{},
	}
}

// Cancel aborts a running execution at its next await point. The
// in-flight tool call is not killed; its result is discarded.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[executionID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Execute runs a skill to completion. The returned error is non-nil for
// validation failures, aborts and failed steps under the abort strategy.
func (e *Engine) Execute(ctx context.Context, s *Skill, inputs map[string]any) (*Result, error) {
	execID := uuid.NewString()
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancels[execID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, execID)
		e.mu.Unlock()
	}()

	res := &Result{ExecutionID: execID, Status: StatusPending}

	res.Status = StatusValidating
	coerced, err := coerceInputs(s, inputs)
	if err != nil {
		res.Status = StatusFailed
		e.events.SkillFailed(execID, s.Name, err.Error(), time.Since(start))
		return nil, fmt.Errorf("skill %s: %w", s.Name, err)
	}
	res.Status = StatusReady

	e.events.SkillStarted(execID, s.Name, len(s.Steps), coerced)
	e.logger.Info("skill started", "skill", s.Name, "execution", execID, "steps", len(s.Steps))

	tctx := &Context{
		Inputs:  coerced,
		Outputs: map[string]any{},
		Env:     envSnapshot(),
		Config:  e.config,
	}

	res.Outputs = tctx.Outputs
	res.Status = StatusRunning
	for i := range s.Steps {
		step := &s.Steps[i]

		if ctx.Err() != nil {
			return e.fail(res, execID, s.Name, "execution aborted", start, StatusAborted)
		}

		e.events.StepStarted(execID, i, step.Name)

		if step.Condition != "" {
			ok, err := EvalCondition(step.Condition, tctx)
			if err != nil {
				e.events.StepFailed(execID, i, step.Name, err.Error())
				return e.fail(res, execID, s.Name, fmt.Sprintf("step %s: %v", step.Name, err), start, StatusFailed)
			}
			if !ok {
				e.events.StepSkipped(execID, i, step.Name)
				res.Steps = append(res.Steps, StepResult{Name: step.Name, Tool: step.Tool, Status: "skipped"})
				continue
			}
		}

		if step.Confirm != nil {
			proceed, skipped, err := e.confirmStep(ctx, execID, i, step, tctx)
			if err != nil {
				status := StatusFailed
				if ctx.Err() != nil {
					status = StatusAborted
				}
				return e.fail(res, execID, s.Name, err.Error(), start, status)
			}
			if skipped {
				e.events.StepSkipped(execID, i, step.Name)
				res.Steps = append(res.Steps, StepResult{Name: step.Name, Tool: step.Tool, Status: "skipped"})
				continue
			}
			if !proceed {
				return e.fail(res, execID, s.Name, fmt.Sprintf("step %s: aborted by observer", step.Name), start, StatusAborted)
			}
		}

		stepStart := time.Now()
		output, stepErr := e.runStep(ctx, s, step, tctx)
		if stepErr == nil {
			if step.Output != "" {
				tctx.Outputs[step.Output] = parseOutput(output)
			}
			e.events.StepCompleted(execID, i, step.Name, time.Since(stepStart))
			res.Steps = append(res.Steps, StepResult{
				Name: step.Name, Tool: step.Tool, Status: "completed",
				Output: output, Duration: time.Since(stepStart),
			})
			continue
		}

		res.Steps = append(res.Steps, StepResult{
			Name: step.Name, Tool: step.Tool, Status: "failed",
			Err: stepErr.Error(), Duration: time.Since(stepStart),
		})
		e.events.StepFailed(execID, i, step.Name, stepErr.Error())

		if s.stepOnError(step) == OnErrorContinue {
			e.logger.Warn("step failed, continuing", "skill", s.Name, "step", step.Name, "error", stepErr)
			continue
		}
		return e.fail(res, execID, s.Name, fmt.Sprintf("step %s: %v", step.Name, stepErr), start, StatusFailed)
	}

	res.Status = StatusCompleted
	res.Duration = time.Since(start)
	e.events.SkillCompleted(execID, s.Name, res.Duration)
	e.logger.Info("skill completed", "skill", s.Name, "execution", execID, "duration", res.Duration)
	return res, nil
}

// fail lands the execution on its terminal status. Aborts share the
// skill_failed wire family; the result tells them apart.
func (e *Engine) fail(res *Result, execID, name, reason string, start time.Time, status Status) (*Result, error) {
	res.Status = status
	res.Duration = time.Since(start)
	e.events.SkillFailed(execID, name, reason, res.Duration)
	e.logger.Warn("skill "+string(status), "skill", name, "execution", execID, "reason", reason)
	return res, fmt.Errorf("skill %s: %s", name, reason)
}

// confirmStep awaits an observer's answer. Returns proceed, skipped.
func (e *Engine) confirmStep(ctx context.Context, execID string, index int, step *Step, tctx *Context) (bool, bool, error) {
	prompt, err := Render(step.Confirm.Prompt, tctx)
	if err != nil {
		return false, false, fmt.Errorf("step %s: %w", step.Name, err)
	}

	future := e.events.RequestConfirmation(bus.ConfirmationRequest{
		SkillID:        execID,
		StepIndex:      index,
		Prompt:         prompt,
		Options:        step.Confirm.Options,
		Default:        step.Confirm.Default,
		TimeoutSeconds: step.Confirm.TimeoutSeconds,
	})

	select {
	case <-ctx.Done():
		return false, false, fmt.Errorf("step %s: execution aborted", step.Name)
	case answer := <-future:
		switch strings.ToLower(answer.Response) {
		case "abort", "no":
			return false, false, nil
		case "skip":
			return false, true, nil
		default:
			// yes, let_claude and anything else proceed.
			return true, false, nil
		}
	}
}

// runStep resolves the argument templates and invokes the tool under the
// step's failure strategy.
func (e *Engine) runStep(ctx context.Context, s *Skill, step *Step, tctx *Context) (string, error) {
	resolved, err := resolveArgs(step.Args, tctx)
	if err != nil {
		return "", err
	}

	invoke := func(ctx context.Context) (string, error) {
		out, err := e.runner.Execute(ctx, step.Tool, resolved)
		if err != nil {
			return "", err
		}
		if tools.IsError(out) {
			return out, fmt.Errorf("tool %s failed: %s", step.Tool, firstLine(out))
		}
		return out, nil
	}

	switch s.stepOnError(step) {
	case OnErrorRetry:
		var out string
		res := retry.Do(ctx, step.Retry.Config(), func() error {
			var err error
			out, err = invoke(ctx)
			return err
		})
		return out, res.Err
	case OnErrorAutoHeal:
		if e.healOpts != nil {
			opts := *e.healOpts
			opts.MaxRetries = 1
			wrapped := heal.Wrap(step.Tool, func(ctx context.Context, args map[string]any) (string, error) {
				return e.runner.Execute(ctx, step.Tool, args)
			}, opts)
			out, err := wrapped(ctx, resolved)
			if err != nil {
				return "", err
			}
			if tools.IsError(out) {
				return out, fmt.Errorf("tool %s failed: %s", step.Tool, firstLine(out))
			}
			return out, nil
		}
		return invoke(ctx)
	default:
		return invoke(ctx)
	}
}

func resolveArgs(args map[string]any, tctx *Context) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		resolved, err := Resolve(v, tctx)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// coerceInputs applies defaults, checks required inputs and coerces
// simple scalars toward the declared type.
func coerceInputs(s *Skill, provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(provided))
	for k, v := range provided {
		out[k] = v
	}

	for _, in := range s.Inputs {
		v, ok := out[in.Name]
		if !ok || v == nil {
			if in.Default != nil {
				out[in.Name] = in.Default
				continue
			}
			if in.Required {
				return nil, fmt.Errorf("missing required input %q", in.Name)
			}
			continue
		}
		coerced, err := coerceValue(v, in.Type)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		out[in.Name] = coerced
	}
	return out, nil
}

func coerceValue(v any, t InputType) (any, error) {
	switch t {
	case TypeString:
		switch val := v.(type) {
		case string:
			return val, nil
		case int, int64, float64, bool:
			return stringify(val), nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	case TypeInt:
		switch val := v.(type) {
		case int:
			return val, nil
		case int64:
			return int(val), nil
		case float64:
			if val == float64(int(val)) {
				return int(val), nil
			}
			return nil, fmt.Errorf("expected int, got %v", val)
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("expected int, got %q", val)
			}
			return n, nil
		}
		return nil, fmt.Errorf("expected int, got %T", v)
	case TypeBool:
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("expected bool, got %q", val)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", v)
	case TypeList:
		if _, ok := v.([]any); ok {
			return v, nil
		}
		return nil, fmt.Errorf("expected list, got %T", v)
	case TypeMap:
		if m, ok := asMap(v); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected map, got %T", v)
	}
	return v, nil
}

// parseOutput makes structured tool results addressable by dotted
// template paths. Non-JSON output stays a plain string.
func parseOutput(out string) any {
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return out
}

func envSnapshot() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// nopEvents silences progress when no bus is attached.
type nopEvents struct{}

func (nopEvents) SkillStarted(string, string, int, map[string]any) {}
func (nopEvents) SkillCompleted(string, string, time.Duration) {}
func (nopEvents) SkillFailed(string, string, string, time.Duration) {}
func (nopEvents) StepStarted(string, int, string) {}
func (nopEvents) StepCompleted(string, int, string, time.Duration) {}
func (nopEvents) StepFailed(string, int, string, string) {}
func (nopEvents) StepSkipped(string, int, string) {}
func (nopEvents) RequestConfirmation(bus.ConfirmationRequest) <-chan bus.Answer {
	ch := make(chan bus.Answer, 1)
	ch <- bus.Answer{Response: bus.LetClaude, TimedOut: true}
	return ch
}
