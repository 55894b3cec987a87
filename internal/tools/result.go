package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Result glyphs. The wrapper chain keys off the leading glyph and never
// parses the human prose that follows it.
const (
	GlyphSuccess = "✅"
	GlyphWarning = "⚠️"
	GlyphInfo    = "ℹ️"
	GlyphError   = "❌"
)

// errorPrefix is the sentinel every failed tool result starts with.
const errorPrefix = GlyphError + " Error"

// Error taxonomy codes.
const (
	CodeAuthFailed         = "AUTH_FAILED"
	CodeAuthExpired        = "AUTH_EXPIRED"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeConflict           = "CONFLICT"
	CodeTimeout            = "TIMEOUT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidState       = "INVALID_STATE"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeDependencyFailed   = "DEPENDENCY_FAILED"
	CodeConnectionFailed   = "CONNECTION_FAILED"
	CodeDNSFailed          = "DNS_FAILED"
)

// Success formats a success result.
func Success(msg string) string {
	return GlyphSuccess + " " + msg
}

// Warning formats a warning result.
func Warning(msg string) string {
	return GlyphWarning + " " + msg
}

// Info formats an informational result.
func Info(msg string) string {
	return GlyphInfo + " " + msg
}

// Errorf formats an error result: sentinel, bracketed taxonomy code,
// inner error, sorted context key=value list, optional hint line.
func Errorf(code, inner string, ctx map[string]string, hint string) string {
	var b strings.Builder
	b.WriteString(errorPrefix)
	if code != "" {
		fmt.Fprintf(&b, " [%s]", code)
	}
	if inner != "" {
		b.WriteString(": ")
		b.WriteString(inner)
	}
	if len(ctx) > 0 {
		keys := make([]string, 0, len(ctx))
		for k := range ctx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+ctx[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(pairs, " "))
		b.WriteString(")")
	}
	if hint != "" {
		b.WriteString("\nHint: ")
		b.WriteString(hint)
	}
	return b.String()
}

// IsError reports whether a tool result carries the error sentinel.
func IsError(result string) bool {
	return strings.HasPrefix(result, errorPrefix)
}
