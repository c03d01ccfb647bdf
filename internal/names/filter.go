package names

import "strings"

// DefaultBlacklist lists substrings seen in error pages, proxy banners, and the
// site's own banner text. Any name containing one of them is rejected.
var DefaultBlacklist = []string{
	"Error",
	"503",
	"Backend fetch failed",
	"Not Found",
	"html",
	"DOCTYPE",
	"Service Unavailable",
	"nginx",
	"Gateway",
	"Forbidden",
	"Cloudflare",
	"デュエル・マスターズ",
}

// Filter rejects names that look like error-page artifacts.
//
// Matching is case-sensitive substring containment. The list is a heuristic
// tuned to HTTP and proxy error pages; unknown failure text can slip through.
type Filter struct {
	blacklist []string
}

// NewFilter builds a Filter over the given blacklist. Blank entries are
// ignored; a nil or empty list falls back to DefaultBlacklist.
func NewFilter(blacklist []string) *Filter {
	out := make([]string, 0, len(blacklist))
	for _, b := range blacklist {
		if b != "" {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		out = append(out, DefaultBlacklist...)
	}
	return &Filter{blacklist: out}
}

// IsArtifact reports whether name contains any blacklisted substring.
func (f *Filter) IsArtifact(name string) bool {
	for _, bad := range f.blacklist {
		if strings.Contains(name, bad) {
			return true
		}
	}
	return false
}

// Accept reports whether name is a non-empty, non-artifact name.
func (f *Filter) Accept(name string) bool {
	return name != "" && !f.IsArtifact(name)
}

// Clean returns the subset of s accepted by the filter.
func (f *Filter) Clean(s Set) Set {
	out := make(Set, len(s))
	for name := range s {
		if f.Accept(name) {
			out.Add(name)
		}
	}
	return out
}
