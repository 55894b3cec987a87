// Package heal wraps failure-prone tools with a classify-fix-retry shell:
// known failure patterns trigger a remediation (credential refresh, VPN
// link-up) and one bounded retry, and every observed failure lands in an
// append-only pattern log with rolling aggregates.
package heal

import "strings"

// Class is the failure classification of one tool invocation.
type Class string

const (
	ClassNone    Class = "none"
	ClassAuth    Class = "auth"
	ClassNetwork Class = "network"
	ClassUnknown Class = "unknown"
)

var authNeedles = []string{
	"unauthorized",
	"401",
	"403",
	"token expired",
	"permission denied",
}

var networkNeedles = []string{
	"no route to host",
	"connection refused",
	"timeout",
	"dial tcp",
}

// Classify maps an error text to a failure class by case-insensitive
// substring match. Auth wins over network when both patterns appear,
// since a refreshed token is the cheaper first try.
func Classify(text string) Class {
	lower := strings.ToLower(text)
	for _, needle := range authNeedles {
		if strings.Contains(lower, needle) {
			return ClassAuth
		}
	}
	for _, needle := range networkNeedles {
		if strings.Contains(lower, needle) {
			return ClassNetwork
		}
	}
	return ClassUnknown
}

// clusterLabels are the cluster names auto-inference recognizes.
var clusterLabels = []string{"stage", "prod", "ephemeral", "konflux"}

// InferCluster resolves the cluster for a credential refresh when the
// caller passed "auto". The failing tool's output is scanned before its
// name; the first known label wins, and the configured default covers
// the rest.
func InferCluster(output, toolName, fallback string) string {
	for _, text := range []string{output, toolName} {
		lower := strings.ToLower(text)
		for _, label := range clusterLabels {
			if strings.Contains(lower, label) {
				return label
			}
		}
	}
	return fallback
}
