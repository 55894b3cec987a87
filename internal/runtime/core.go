package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/toolsmith-ai/toolsmith/internal/persona"
	"github.com/toolsmith-ai/toolsmith/internal/prompt"
	"github.com/toolsmith-ai/toolsmith/internal/skill"
	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

const coreModuleName = "runtime_core"

// registerCoreTools installs the protected tool set: session and persona
// management, skill execution and the debug/dispatch meta-tools. These
// survive every persona switch.
func (rt *Runtime) registerCoreTools() error {
	entries := []*tools.Tool{
		{
			Name:        "session_start",
			Module:      coreModuleName,
			Description: "Start a session in the calling workspace and return its super-prompt.",
			Tier:        tools.TierCore,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"persona": {"type": "string"},
					"project": {"type": "string"}
				}
			}`),
			Handler: rt.sessionStartHandler,
		},
		{
			Name:        "persona_load",
			Module:      coreModuleName,
			Description: "Switch the live tool set to a named persona.",
			Tier:        tools.TierCore,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"name": {"type": "string"}},
				"required": ["name"]
			}`),
			Handler: rt.personaLoadHandler,
		},
		{
			Name:        "persona_list",
			Module:      coreModuleName,
			Description: "List the available personas.",
			Tier:        tools.TierCore,
			Handler:     rt.personaListHandler,
		},
		{
			Name:        "skill_list",
			Module:      coreModuleName,
			Description: "List the loaded skills.",
			Tier:        tools.TierCore,
			Handler:     rt.skillListHandler,
		},
		{
			Name:        "skill_run",
			Module:      coreModuleName,
			Description: "Execute a skill by name with an input map.",
			Tier:        tools.TierCore,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"skill": {"type": "string"},
					"inputs": {"type": "object"}
				},
				"required": ["skill"]
			}`),
			Handler: rt.skillRunHandler,
		},
		tools.NewDebugTool(rt.registry),
		rt.toolExecTool(),
	}

	for _, t := range entries {
		t.Handler = tools.WrapDebug(t.Name, t.Handler, rt.telemetry)
		if err := rt.registry.Register(t); err != nil {
			return fmt.Errorf("register core tool %s: %w", t.Name, err)
		}
	}

	if _, err := tools.LoadModule(rt.registry, rt.wrapModule(rt.memoryModule)); err != nil {
		return err
	}
	return nil
}

// toolExecTool extends the registry dispatcher: when the requested tool
// is known but not loaded, the error also names the personas that would
// load it.
func (rt *Runtime) toolExecTool() *tools.Tool {
	t := tools.NewToolExecTool(rt.registry)
	base := t.Handler
	t.Handler = func(ctx context.Context, args map[string]any) (string, error) {
		out, err := base(ctx, args)
		if err != nil || !tools.IsError(out) {
			return out, err
		}
		name, _ := args["tool"].(string)
		if _, live := rt.registry.Get(name); !live && rt.registry.Known(name) {
			if providers := rt.personasProviding(name); len(providers) > 0 {
				out += "\npersonas providing it: " + strings.Join(providers, ", ")
			}
		}
		return out, err
	}
	return t
}

func (rt *Runtime) sessionStartHandler(ctx context.Context, args map[string]any) (string, error) {
	personaName, _ := args["persona"].(string)
	if personaName == "" {
		personaName = rt.loader.Current()
	}
	project, _ := args["project"].(string)

	ws := rt.workspaces.GetForCtx(ctx)
	sess := ws.NewSession(personaName, project, time.Now().UTC())
	if err := rt.workspaces.Save(); err != nil {
		rt.logger.Warn("workspace save failed", "error", err)
	}

	b := prompt.New()
	if personaName != "" {
		if p, err := persona.Load(rt.cfg.Paths.Personas, personaName); err == nil {
			b.AddPersona(p.Text())
			b.AddSkills(p.DefaultSkills)
		}
	}
	if names := rt.library.Names(); len(names) > 0 {
		b.AddSkills(names)
	}

	out := b.Build()
	header := fmt.Sprintf("session %s started (workspace %s)", sess.ID, ws.URI)
	if out.Danger {
		header += "\n⚠️ context budget exceeded, trim the super-prompt"
	} else if out.Warning {
		header += "\n⚠️ context budget warning"
	}
	if out.Text == "" {
		return tools.Success(header), nil
	}
	return tools.Success(header + "\n\n" + out.Text), nil
}

func (rt *Runtime) personaLoadHandler(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	res, err := rt.loader.Switch(ctx, name)
	if err != nil {
		return tools.Errorf(tools.CodeNotFound, err.Error(), map[string]string{"persona": name}, "run persona_list to see what exists"), nil
	}

	msg := fmt.Sprintf("persona %s loaded with %d tools", res.Persona, res.ToolCount)
	if len(res.Errors) > 0 {
		var failed []string
		for _, e := range res.Errors {
			failed = append(failed, e.Module)
		}
		return tools.Warning(msg + "; failed modules: " + strings.Join(failed, ", ")), nil
	}
	return tools.Success(msg), nil
}

func (rt *Runtime) personaListHandler(ctx context.Context, args map[string]any) (string, error) {
	personas, err := rt.loader.List()
	if err != nil {
		return tools.Errorf(tools.CodeInternalError, err.Error(), nil, ""), nil
	}
	if len(personas) == 0 {
		return tools.Info("no personas found in " + rt.cfg.Paths.Personas), nil
	}

	var sb strings.Builder
	for _, p := range personas {
		marker := "  "
		if p.Name == rt.loader.Current() {
			marker = "* "
		}
		fmt.Fprintf(&sb, "%s%s — %s (%d modules)\n", marker, p.Name, p.Description, len(p.Modules))
	}
	return tools.Success(strings.TrimRight(sb.String(), "\n")), nil
}

func (rt *Runtime) skillListHandler(ctx context.Context, args map[string]any) (string, error) {
	names := rt.library.Names()
	if len(names) == 0 {
		return tools.Info("no skills loaded"), nil
	}

	var sb strings.Builder
	for _, name := range names {
		s, ok := rt.library.Get(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%s — %s (%d steps)\n", s.Name, s.Description, len(s.Steps))
	}
	return tools.Success(strings.TrimRight(sb.String(), "\n")), nil
}

func (rt *Runtime) skillRunHandler(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["skill"].(string)
	s, ok := rt.library.Get(name)
	if !ok {
		return tools.Errorf(tools.CodeNotFound, fmt.Sprintf("skill %q not loaded", name), nil, "run skill_list to see what is available"), nil
	}

	warnings := s.Preflight(skill.ValidateOptions{
		LiveTool: func(tool string) bool {
			_, live := rt.registry.Get(tool)
			return live
		},
		KnownTool: rt.registry.Known,
		Providers: rt.personasProviding,
	})

	inputs, _ := args["inputs"].(map[string]any)
	res, err := rt.engine.Execute(ctx, s, inputs)
	if err != nil {
		return tools.Errorf(tools.CodeDependencyFailed, err.Error(), map[string]string{"skill": name}, ""), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "skill %s completed in %s (%d steps)", s.Name, res.Duration.Round(time.Millisecond), len(res.Steps))
	for _, w := range warnings {
		sb.WriteString("\n⚠️ " + w)
	}
	for stepName, output := range res.Outputs {
		fmt.Fprintf(&sb, "\n%s: %s", stepName, truncateOutput(output))
	}
	return tools.Success(sb.String()), nil
}

// personasProviding names the personas whose module lists would load a
// tool, for skill pre-flight warnings.
func (rt *Runtime) personasProviding(tool string) []string {
	module, ok := rt.registry.ModuleOf(tool)
	if !ok {
		return nil
	}
	personas, err := rt.loader.List()
	if err != nil {
		return nil
	}
	var providers []string
	for _, p := range personas {
		for _, m := range p.Modules {
			if m == module || strings.HasPrefix(module, m+"_") {
				providers = append(providers, p.Name)
				break
			}
		}
	}
	return providers
}

func truncateOutput(v any) string {
	s := fmt.Sprint(v)
	if m, ok := v.(map[string]any); ok {
		if data, err := json.Marshal(m); err == nil {
			s = string(data)
		}
	}
	const max = 400
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
