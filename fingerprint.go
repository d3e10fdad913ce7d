// Matcher fingerprinting for index metadata.
//
// A matcher predicate cannot itself be persisted — it is supplied
// afresh every process start — so accidental reopen of an index with
// a different matcher must instead be caught via a
// caller-chosen fingerprint stored in the index's metadata blob
// (compared bit-exactly by Index.Open via ErrIndexMetadataMismatch).
// Fingerprint computes that short hash from whatever string the caller
// considers the matcher's semantic identity (e.g. a serialized
// predicate description or a version tag).
package eventstore

import (
	"fmt"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint algorithm selectors.
const (
	AlgXXHash3 = 1 // Default, fastest
	AlgFNV1a   = 2 // No external dependencies
	AlgBlake2b = 3 // Best distribution
)

// Fingerprint returns a 16 hex character hash of s using the given
// algorithm. An unrecognised algorithm yields the empty string.
func Fingerprint(s string, alg int) string {
	switch alg {
	case AlgXXHash3:
		return fmt.Sprintf("%016x", xxh3.HashString(s))
	case AlgFNV1a:
		h := fnv.New64a()
		h.Write([]byte(s))
		return fmt.Sprintf("%016x", h.Sum64())
	case AlgBlake2b:
		h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
		h.Write([]byte(s))
		return fmt.Sprintf("%016x", h.Sum(nil))
	default:
		return ""
	}
}
