// Package slugify turns arbitrary task titles into branch-safe, filesystem-safe
// slugs.
package slugify

import "strings"

const maxLength = 50

// Slug lowercases s, collapses every run of non-alphanumeric characters into
// a single hyphen, strips leading/trailing hyphens, and truncates to 50
// characters. It is idempotent: Slug(Slug(s)) == Slug(s).
func Slug(s string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > maxLength {
		out = strings.TrimRight(out[:maxLength], "-")
	}
	return out
}
