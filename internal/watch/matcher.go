// Package watch implements the watch-domain matcher (C3): deciding, per
// host, whether the MITM bridge should intercept or the tunneler should
// pass bytes through opaquely.
package watch

import "strings"

// Matcher holds an immutable, lowercased copy of the watch-domain list.
// Build a new Matcher and swap it into a Runtime to change the list at
// runtime — Matcher itself never mutates after construction.
type Matcher struct {
	domains []string
}

// New builds a Matcher from the given substrings. Matching is
// case-insensitive; domains are lowercased once here so Match only has to
// lowercase the host.
func New(domains []string) *Matcher {
	lowered := make([]string, len(domains))
	for i, d := range domains {
		lowered[i] = strings.ToLower(d)
	}
	return &Matcher{domains: lowered}
}

// Match reports whether host is watched: true iff any configured substring
// occurs in host.ToLower(). O(n·m) over a small list, per spec.md §4.3.
func (m *Matcher) Match(host string) bool {
	if m == nil {
		return false
	}
	host = strings.ToLower(host)
	for _, d := range m.domains {
		if d != "" && strings.Contains(host, d) {
			return true
		}
	}
	return false
}
