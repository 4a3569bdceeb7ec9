package cache

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// digestPrefix marks keys that were replaced by their digest, so a stored
// digest can never be confused with a short verbatim key.
const digestPrefix = "b2:"

// internKey returns the storage form of a key. Keys within maxLen are
// stored verbatim; longer keys, such as whole prompts, are replaced by
// their BLAKE2b-256 digest.
func internKey(key string, maxLen int) string {
	if len(key) <= maxLen {
		return key
	}
	sum := blake2b.Sum256([]byte(key))
	return digestPrefix + hex.EncodeToString(sum[:])
}
