// Package netutil provides small hostname helpers shared by the dispatcher,
// tunneler, and MITM bridge.
package netutil

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HostOnly strips an optional ":port" suffix and lowercases the result.
// Accepts both "host:port" and "host" forms, including bracketed IPv6.
func HostOnly(target string) string {
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return strings.ToLower(host)
}

// SplitHostPortDefault splits "host:port" into its parts, falling back to
// defaultPort when target carries no explicit port (the common case for a
// bare CONNECT authority like "example.test:443", already has one, but a
// malformed or portless target still needs somewhere to dial).
func SplitHostPortDefault(target, defaultPort string) (host, port string) {
	h, p, err := net.SplitHostPort(target)
	if err != nil {
		return strings.ToLower(target), defaultPort
	}
	return strings.ToLower(h), p
}

// EffectiveDomain returns the eTLD+1 of host for human-readable grouping in
// verbose logs (e.g. "api.example.co.uk" -> "example.co.uk"). Falls back to
// the host unchanged for IPs, localhost, and bare TLDs, where the public
// suffix list has no opinion.
func EffectiveDomain(host string) string {
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}
