package skill

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Context is the read-only evaluation environment for templates. Env and
// Config are snapshotted by the engine before execution, so evaluating a
// template never touches the process environment.
type Context struct {
	Inputs  map[string]any
	Outputs map[string]any
	Env     map[string]string
	Config  map[string]any
}

var exprPattern = regexp.MustCompile(`\{\{([^}]*)\}\}`)

// Render substitutes every {{ ... }} expression in s. An expression is a
// dotted path over inputs/outputs/env/config followed by optional pure
// filters (default, json, upper, lower, slugify).
func Render(s string, ctx *Context) (string, error) {
	var firstErr error
	out := exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		v, err := evalExpr(expr, ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return stringify(v)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Resolve renders template expressions inside an argument value,
// recursing through maps and lists. A string that is exactly one
// expression resolves to the referenced value with its type intact.
func Resolve(v any, ctx *Context) (any, error) {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
			strings.Count(trimmed, "{{") == 1 {
			return evalExpr(strings.TrimSpace(trimmed[2:len(trimmed)-2]), ctx)
		}
		return Render(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := Resolve(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := Resolve(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// EvalCondition evaluates a step condition. Supported forms: a bare
// expression (truthiness) or `lhs OP rhs` where operands are expressions
// or literals and OP is one of == != >= <= > <.
func EvalCondition(cond string, ctx *Context) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}

	for _, op := range comparisonOps {
		idx := indexOutsideQuotes(cond, op)
		if idx < 0 {
			continue
		}
		lhs, err := evalOperand(strings.TrimSpace(cond[:idx]), ctx)
		if err != nil {
			return false, err
		}
		rhs, err := evalOperand(strings.TrimSpace(cond[idx+len(op):]), ctx)
		if err != nil {
			return false, err
		}
		return compare(lhs, rhs, op)
	}

	v, err := evalOperand(cond, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// References lists the root.path references a template string makes, for
// load-time validation.
func References(s string) []string {
	var refs []string
	for _, match := range exprPattern.FindAllStringSubmatch(s, -1) {
		expr := strings.TrimSpace(match[1])
		if path := strings.TrimSpace(strings.SplitN(expr, "|", 2)[0]); path != "" {
			refs = append(refs, path)
		}
	}
	return refs
}

// ConditionReferences lists the path references inside a condition.
func ConditionReferences(cond string) []string {
	var refs []string
	for _, part := range splitCondition(cond) {
		part = strings.TrimSpace(part)
		if part == "" || isLiteral(part) {
			continue
		}
		refs = append(refs, strings.TrimSpace(strings.SplitN(part, "|", 2)[0]))
	}
	return refs
}

func splitCondition(cond string) []string {
	cond = strings.TrimSpace(cond)
	for _, op := range comparisonOps {
		if idx := indexOutsideQuotes(cond, op); idx >= 0 {
			return []string{cond[:idx], cond[idx+len(op):]}
		}
	}
	return []string{cond}
}

func evalExpr(expr string, ctx *Context) (any, error) {
	parts := strings.Split(expr, "|")
	path := strings.TrimSpace(parts[0])

	v, found, err := lookup(path, ctx)
	if err != nil {
		return nil, err
	}

	for _, raw := range parts[1:] {
		name, arg := parseFilter(strings.TrimSpace(raw))
		switch name {
		case "default":
			if !found || v == nil || v == "" {
				v, found = arg, true
			}
		case "json":
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("json filter on %s: %w", path, err)
			}
			v = string(data)
		case "upper":
			v = strings.ToUpper(stringify(v))
		case "lower":
			v = strings.ToLower(stringify(v))
		case "slugify":
			v = slugify(stringify(v))
		default:
			return nil, fmt.Errorf("unknown template filter %q", name)
		}
	}

	if !found {
		return nil, fmt.Errorf("unresolved template reference %q", path)
	}
	return v, nil
}

func parseFilter(raw string) (string, string) {
	name, arg, ok := strings.Cut(raw, ":")
	if !ok {
		return strings.TrimSpace(raw), ""
	}
	arg = strings.TrimSpace(arg)
	arg = strings.Trim(arg, `"'`)
	return strings.TrimSpace(name), arg
}

func lookup(path string, ctx *Context) (any, bool, error) {
	segments := strings.Split(path, ".")
	if len(segments) < 2 {
		return nil, false, fmt.Errorf("template path %q must start with inputs, outputs, env or config", path)
	}

	var cur any
	switch segments[0] {
	case "inputs":
		v, ok := ctx.Inputs[segments[1]]
		if !ok {
			return nil, false, nil
		}
		cur = v
	case "outputs":
		v, ok := ctx.Outputs[segments[1]]
		if !ok {
			return nil, false, nil
		}
		cur = v
	case "env":
		v, ok := ctx.Env[segments[1]]
		if !ok {
			return nil, false, nil
		}
		cur = v
	case "config":
		v, ok := ctx.Config[segments[1]]
		if !ok {
			return nil, false, nil
		}
		cur = v
	default:
		return nil, false, fmt.Errorf("template path %q must start with inputs, outputs, env or config", path)
	}

	for _, seg := range segments[2:] {
		m, ok := asMap(cur)
		if !ok {
			return nil, false, nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false, nil
		}
	}
	return cur, true, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[fmt.Sprint(k)] = item
		}
		return out, true
	default:
		return nil, false
	}
}

func evalOperand(raw string, ctx *Context) (any, error) {
	if lit, ok := literalValue(raw); ok {
		return lit, nil
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{{") && strings.HasSuffix(raw, "}}") {
		raw = strings.TrimSpace(raw[2 : len(raw)-2])
	}
	return evalExpr(raw, ctx)
}

func isLiteral(raw string) bool {
	_, ok := literalValue(raw)
	return ok
}

func literalValue(raw string) (any, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1], true
		}
	}
	switch raw {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n, true
	}
	return nil, false
}

func compare(lhs, rhs any, op string) (bool, error) {
	ln, lok := toFloat(lhs)
	rn, rok := toFloat(rhs)
	if lok && rok {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case ">":
			return ln > rn, nil
		case "<":
			return ln < rn, nil
		case ">=":
			return ln >= rn, nil
		case "<=":
			return ln <= rn, nil
		}
	}

	ls, rs := stringify(lhs), stringify(rhs)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case ">":
		return ls > rs, nil
	case "<":
		return ls < rs, nil
	case ">=":
		return ls >= rs, nil
	case "<=":
		return ls <= rs, nil
	}
	return false, fmt.Errorf("unsupported comparison %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case int:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// indexOutsideQuotes finds op in s ignoring quoted regions.
func indexOutsideQuotes(s, op string) int {
	var quote byte
	for i := 0; i+len(op) <= len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		if s[i:i+len(op)] == op {
			return i
		}
	}
	return -1
}
