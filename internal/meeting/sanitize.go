// SPDX-License-Identifier: MIT

package meeting

import "strings"

// SanitizeID maps an arbitrary meeting identifier onto the character class
// [A-Za-z0-9_] for safe use in artifact paths. It is total: every rune
// outside the class becomes '_', and an empty input yields "_".
func SanitizeID(id string) string {
	if id == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
