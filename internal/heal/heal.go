package heal

import (
	"context"
	"log/slog"
	"time"

	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

// Fix action names recorded in the failure log and heal events.
const (
	FixRefreshCredentials = "refresh_credentials"
	FixLinkUp             = "link_up"
)

// ClusterAuto asks the wrapper to infer the cluster from the failure.
const ClusterAuto = "auto"

// Fixer is the capability interface the external auth and network tools
// provide. Fix actions must be cheap no-ops when the resource is already
// healthy.
type Fixer interface {
	RefreshCredentials(ctx context.Context, cluster string) (bool, error)
	LinkUp(ctx context.Context) (bool, error)
}

// Notifier receives heal lifecycle events. The event bus implements it;
// a nil notifier disables emission.
type Notifier interface {
	HealTriggered(tool string, class Class, fix string)
	HealCompleted(tool string, class Class, fix string, success bool)
}

// Options configures one wrapped tool.
type Options struct {
	// MaxRetries bounds how many healed re-invocations happen. Zero
	// means the default of one.
	MaxRetries int

	// Cluster names the cluster for credential refreshes, or
	// ClusterAuto to infer it from the failure.
	Cluster string

	// DefaultCluster is used when auto-inference finds no label.
	DefaultCluster string

	Fixer    Fixer
	Log      *FailureLog
	Notifier Notifier
	Logger   *slog.Logger
}

// DefaultMaxRetries is the retry bound when none is configured.
const DefaultMaxRetries = 1

// Wrap decorates a handler with the classify-fix-retry shell. Unknown
// failures pass through unmasked; handler panics are not caught, but
// handler errors are converted to structured error results so the chain
// above sees a value, not an exception.
func Wrap(toolName string, h tools.Handler, opts Options) tools.Handler {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, args map[string]any) (string, error) {
		attempts := 0
		fixApplied := ""

		for {
			result, err := h(ctx, args)
			if err != nil {
				result = tools.Errorf(tools.CodeInternalError, err.Error(),
					map[string]string{"tool": toolName}, "")
			}

			if !tools.IsError(result) {
				if fixApplied != "" {
					logAppend(opts.Log, logger, Entry{
						Tool:       toolName,
						Class:      lastClass(result, fixApplied),
						Error:      "",
						FixApplied: fixApplied,
						Success:    true,
					})
				}
				return result, nil
			}

			class := Classify(result)
			if (class == ClassAuth || class == ClassNetwork) && attempts < maxRetries && opts.Fixer != nil {
				fix := fixForClass(class)
				if opts.Notifier != nil {
					opts.Notifier.HealTriggered(toolName, class, fix)
				}
				ok := applyFix(ctx, class, result, toolName, opts)
				if opts.Notifier != nil {
					opts.Notifier.HealCompleted(toolName, class, fix, ok)
				}
				if ok {
					attempts++
					fixApplied = fix
					logger.Info("auto-heal fix applied, retrying tool",
						"tool", toolName, "class", class, "fix", fix, "attempt", attempts)
					continue
				}
				logger.Warn("auto-heal fix failed", "tool", toolName, "class", class, "fix", fix)
			}

			logAppend(opts.Log, logger, Entry{
				Tool:       toolName,
				Class:      class,
				Error:      result,
				FixApplied: fixApplied,
				Success:    false,
			})
			return result, nil
		}
	}
}

// lastClass recovers the class for the success log entry from the fix
// that produced it.
func lastClass(result, fix string) Class {
	if fix == FixLinkUp {
		return ClassNetwork
	}
	return ClassAuth
}

func fixForClass(class Class) string {
	if class == ClassNetwork {
		return FixLinkUp
	}
	return FixRefreshCredentials
}

func applyFix(ctx context.Context, class Class, output, toolName string, opts Options) bool {
	fixCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	switch class {
	case ClassNetwork:
		ok, err := opts.Fixer.LinkUp(fixCtx)
		return err == nil && ok
	case ClassAuth:
		cluster := opts.Cluster
		if cluster == "" || cluster == ClusterAuto {
			cluster = InferCluster(output, toolName, opts.DefaultCluster)
		}
		ok, err := opts.Fixer.RefreshCredentials(fixCtx, cluster)
		return err == nil && ok
	default:
		return false
	}
}

func logAppend(log *FailureLog, logger *slog.Logger, e Entry) {
	if log == nil {
		return
	}
	if err := log.Append(e); err != nil {
		logger.Warn("failure log append failed", "error", err, "tool", e.Tool)
	}
}
