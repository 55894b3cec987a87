// Package timeouts centralizes the timeout classes and output caps used
// across the runtime. Callers look up a class by name instead of spreading
// literal durations through tool code.
package timeouts

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeout classes, ordered roughly by how long the wrapped work runs.
const (
	Instant      = 2 * time.Second
	Quick        = 5 * time.Second
	Short        = 10 * time.Second
	Fast         = 30 * time.Second
	Default      = 60 * time.Second
	Lint         = 300 * time.Second
	Build        = 600 * time.Second
	Deploy       = 900 * time.Second
	TestSuite    = 1200 * time.Second
	HTTPRequest  = 30 * time.Second
	ClusterLogin = 120 * time.Second
)

// Output caps in characters. Tool wrappers truncate results to one of these.
const (
	CapShort    = 1_000
	CapMedium   = 2_000
	CapStandard = 5_000
	CapLong     = 10_000
	CapFull     = 15_000
	CapExtended = 20_000
)

var classes = map[string]time.Duration{
	"instant":       Instant,
	"quick":         Quick,
	"short":         Short,
	"fast":          Fast,
	"default":       Default,
	"lint":          Lint,
	"build":         Build,
	"deploy":        Deploy,
	"test-suite":    TestSuite,
	"http-request":  HTTPRequest,
	"cluster-login": ClusterLogin,
}

var caps = map[string]int{
	"short":    CapShort,
	"medium":   CapMedium,
	"standard": CapStandard,
	"long":     CapLong,
	"full":     CapFull,
	"extended": CapExtended,
}

// Class returns the duration for a named timeout class.
// Unknown names fall back to the default class.
func Class(name string) time.Duration {
	if d, ok := classes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d
	}
	return Default
}

// OutputCap returns the character cap for a named output class.
// Unknown names fall back to the standard cap.
func OutputCap(name string) int {
	if c, ok := caps[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c
	}
	return CapStandard
}

// Truncate limits s to the named output cap, appending a marker when cut.
func Truncate(s, capName string) string {
	limit := OutputCap(capName)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "\n... (output truncated)"
}

// DurationOf parses a human duration like "30m", "2h", "1d" or "1w" and
// returns the total number of minutes. A bare number is taken as minutes.
func DurationOf(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	unit := s[len(s)-1]
	num := s
	multiplier := 1
	switch unit {
	case 'm':
		num = s[:len(s)-1]
	case 'h':
		num = s[:len(s)-1]
		multiplier = 60
	case 'd':
		num = s[:len(s)-1]
		multiplier = 60 * 24
	case 'w':
		num = s[:len(s)-1]
		multiplier = 60 * 24 * 7
	default:
		if unit < '0' || unit > '9' {
			return 0, fmt.Errorf("unknown duration suffix %q", string(unit))
		}
	}

	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return n * multiplier, nil
}
