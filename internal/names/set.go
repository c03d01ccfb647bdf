package names

import "sort"

// Set is an unordered collection of canonical names.
type Set map[string]struct{}

// NewSet returns a Set holding the given names.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts name and reports whether it was new.
func (s Set) Add(name string) bool {
	if _, ok := s[name]; ok {
		return false
	}
	s[name] = struct{}{}
	return true
}

// Has reports whether name is present.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Len returns the number of names.
func (s Set) Len() int {
	return len(s)
}

// Merge adds every name of other into s and returns the number added.
func (s Set) Merge(other Set) int {
	added := 0
	for name := range other {
		if s.Add(name) {
			added++
		}
	}
	return added
}

// Union returns a new Set holding the names of both sets.
func Union(a, b Set) Set {
	out := make(Set, len(a)+len(b))
	out.Merge(a)
	out.Merge(b)
	return out
}

// Sorted returns the names in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
