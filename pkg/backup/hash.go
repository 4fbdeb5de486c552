package backup

import "github.com/cespare/xxhash/v2"

// KeyHash returns a deterministic, non-cryptographic 64-bit hash of key,
// used to route a key to a shard.
func KeyHash(key string) uint64 {
	return xxhash.Sum64String(key)
}
