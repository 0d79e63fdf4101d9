package ca

import "github.com/zeebo/xxh3"

// shardCount is the number of generation-lock stripes. Concurrent first-time
// leaf requests for different hosts rarely collide; requests for the same
// host always share a stripe, avoiding duplicate RSA key generation under load.
// Per spec.md §4.5, serializing is not required — the lock is a cheap-common-
// case optimization, not a correctness requirement.
const shardCount = 64

// shardFor picks a lock stripe for hostname via xxh3, matching the hashing
// approach the teacher repo uses to derive deterministic identities
// (internal/node.HashFromRawOptions) rather than Go's built-in map hashing,
// which is randomized per process and unsuitable for a stable stripe index.
func shardFor(hostname string) uint64 {
	return xxh3.HashString(hostname) % shardCount
}
