package fsutil

import "strings"

// maxNameLen bounds the length of names built by SafeName.
const maxNameLen = 128

// SafeName turns an arbitrary identifier, such as a run ID, into a single
// path element. Runs of characters outside [A-Za-z0-9._-] become one
// underscore, leading and trailing dots and underscores are dropped, and
// the result is truncated to 128 bytes. An empty result becomes fallback.
func SafeName(s, fallback string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return fallback
	}
	return out
}
