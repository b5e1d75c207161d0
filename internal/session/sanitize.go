// Package session implements the Session Server: the per-client
// mark3labs/mcp-go server.MCPServer exposing the five meta-tools
// (find_tools, describe_tools, execute, list_namespaces,
// clear_selection_cache) from spec section 4.3, wired to the Retriever,
// the policy Engine, and the live upstream Registry. It is grounded on
// the teacher's internal/broker.go hook wiring (server.Hooks,
// AddBeforeAny/AddOnError logging) and replaces its per-session Redis/map
// cache with direct calls into this broker's own Retriever and policy
// Engine, which already hold all the state a client needs.
package session

import (
	"strings"
	"unicode"
)

const (
	maxSanitizedDescriptionLen = 2000
	maxSanitizedNameLen        = 200
)

// promptInjectionMarkers are substrings that, if present verbatim in an
// upstream-supplied tool description, are neutralized before the
// description ever reaches a downstream model's context window. This is
// a defense against upstreams trying to smuggle instructions into a tool
// catalog a model will read as trusted content.
var promptInjectionMarkers = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard previous instructions",
	"system prompt:",
	"you are now",
}

// SanitizeDescription strips control characters, neutralizes known
// prompt-injection phrasing, and truncates to a bounded length, per spec
// section 4.3's tool-description sanitization contract.
func SanitizeDescription(raw string) string {
	stripped := stripControlChars(raw)
	neutralized := neutralizeInjectionMarkers(stripped)
	return truncate(neutralized, maxSanitizedDescriptionLen)
}

// SanitizeName coerces an upstream-supplied tool or server name into a
// safe identifier: control characters stripped, non-identifier runes
// replaced with underscore, bounded length.
func SanitizeName(raw string) string {
	stripped := stripControlChars(raw)
	var b strings.Builder
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return truncate(b.String(), maxSanitizedNameLen)
}

func stripControlChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func neutralizeInjectionMarkers(s string) string {
	lower := strings.ToLower(s)
	result := s
	for _, marker := range promptInjectionMarkers {
		idx := strings.Index(lower, marker)
		for idx >= 0 {
			result = result[:idx] + "[redacted]" + result[idx+len(marker):]
			lower = strings.ToLower(result)
			idx = strings.Index(lower, marker)
		}
	}
	return result
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…(truncated)"
}
