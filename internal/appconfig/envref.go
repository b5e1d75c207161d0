package appconfig

import "strings"

// ExpandString expands $NAME and ${NAME} references in s using lookup,
// discarding the unresolved-name report; used by callers (e.g. the
// Cataloger's HTTP header resolution) that only need the best-effort
// expanded value, not the diagnostic list ResolveEnv returns.
func ExpandString(s string, lookup func(string) (string, bool)) string {
	expanded, _ := expandEnvRefs(s, lookup)
	return expanded
}

// expandEnvRefs expands $NAME and ${NAME} references in s using lookup,
// returning the expanded string and the names of any references lookup
// could not resolve (left verbatim in the output).
func expandEnvRefs(s string, lookup func(string) (string, bool)) (string, []string) {
	var out strings.Builder
	var unresolved []string
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i == len(s)-1 {
			out.WriteByte(c)
			continue
		}
		rest := s[i+1:]
		var name string
		var consumed int
		if rest[0] == '{' {
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				out.WriteByte(c)
				continue
			}
			name = rest[1:end]
			consumed = end + 1
		} else {
			end := 0
			for end < len(rest) && isEnvNameByte(rest[end]) {
				end++
			}
			if end == 0 {
				out.WriteByte(c)
				continue
			}
			name = rest[:end]
			consumed = end
		}
		val, ok := lookup(name)
		if !ok {
			unresolved = append(unresolved, name)
			out.WriteByte(c)
			out.WriteString(s[i+1 : i+1+consumed])
		} else {
			out.WriteString(val)
		}
		i += consumed
	}
	return out.String(), unresolved
}

func isEnvNameByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
