package names

import "strings"

// Sanitize strips the trailing "(set/number)" annotation catalog names carry
// and returns the trimmed name. It returns "" for blank input.
func Sanitize(raw string) string {
	name, _, _ := strings.Cut(raw, "(")
	return strings.TrimSpace(name)
}
