package util

import "strings"

// Slug lowercases s and replaces anything outside [a-z0-9-] with a hyphen,
// collapsing runs. Used to turn issue refs into agent ids and tmux session
// names, which must be shell- and filesystem-safe.
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
