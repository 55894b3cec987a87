// Package toolmods holds the tool modules compiled into the toolsmith
// binary. Each module registers its operations through the shared
// registry; personas pick modules by logical name.
package toolmods

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/toolsmith-ai/toolsmith/internal/timeouts"
	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

// Environment variables naming the remediation commands. The commands are
// site-specific (VPN scripts, cluster login wrappers), so the binary
// takes them from the environment instead of hardcoding one site's
// tooling.
const (
	EnvRefreshCmd = "TOOLSMITH_REFRESH_CMD"
	EnvLinkUpCmd  = "TOOLSMITH_LINKUP_CMD"
)

const opsModuleName = "ops_core"

// Ops returns the operations module: credential refresh and VPN link-up.
// The auto-heal layer dispatches to these tools by name.
func Ops() tools.Module {
	return tools.ModuleFunc{
		UnitName: opsModuleName,
		Register: func(reg *tools.Registry) (int, error) {
			entries := []*tools.Tool{
				{
					Name:        "refresh_credentials",
					Module:      opsModuleName,
					Description: "Re-authenticate against a cluster using the configured login command.",
					Tier:        tools.TierCore,
					Source:      tools.SourceLoc{File: "internal/toolmods/ops.go", StartLine: 36, EndLine: 52},
					InputSchema: []byte(`{
						"type": "object",
						"properties": {"cluster": {"type": "string"}},
						"required": ["cluster"]
					}`),
					Handler: refreshCredentials,
				},
				{
					Name:        "link_up",
					Module:      opsModuleName,
					Description: "Bring the VPN link up using the configured command.",
					Tier:        tools.TierCore,
					Source:      tools.SourceLoc{File: "internal/toolmods/ops.go", StartLine: 54, EndLine: 66},
					Handler:     linkUp,
				},
			}
			for _, t := range entries {
				if err := reg.Register(t); err != nil {
					return 0, err
				}
			}
			return len(entries), nil
		},
	}
}

func refreshCredentials(ctx context.Context, args map[string]any) (string, error) {
	cluster, _ := args["cluster"].(string)
	cmdline := os.Getenv(EnvRefreshCmd)
	if strings.TrimSpace(cmdline) == "" {
		return tools.Errorf(tools.CodeInvalidState,
			"no credential refresh command configured",
			map[string]string{"cluster": cluster},
			"set "+EnvRefreshCmd+" to your cluster login command"), nil
	}

	out, err := runCommand(ctx, timeouts.ClusterLogin, cmdline, cluster)
	if err != nil {
		return tools.Errorf(tools.CodeAuthFailed,
			fmt.Sprintf("credential refresh failed: %v", err),
			map[string]string{"cluster": cluster, "output": timeouts.Truncate(out, "short")},
			""), nil
	}
	return tools.Success(fmt.Sprintf("credentials refreshed for %s", cluster)), nil
}

func linkUp(ctx context.Context, args map[string]any) (string, error) {
	cmdline := os.Getenv(EnvLinkUpCmd)
	if strings.TrimSpace(cmdline) == "" {
		return tools.Errorf(tools.CodeInvalidState,
			"no link-up command configured", nil,
			"set "+EnvLinkUpCmd+" to your VPN connect command"), nil
	}

	out, err := runCommand(ctx, timeouts.Fast, cmdline)
	if err != nil {
		return tools.Errorf(tools.CodeConnectionFailed,
			fmt.Sprintf("link-up failed: %v", err),
			map[string]string{"output": timeouts.Truncate(out, "short")},
			""), nil
	}
	return tools.Success("link is up"), nil
}

// runCommand executes a space-separated command line with extra args
// under a timeout and returns its combined output.
func runCommand(ctx context.Context, timeout time.Duration, cmdline string, extra ...string) (string, error) {
	fields := strings.Fields(cmdline)
	argv := append(fields[1:], extra...)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, fields[0], argv...)
	raw, err := cmd.CombinedOutput()
	return string(raw), err
}
