package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// separator joins prompt and model before hashing. It must never appear as
// a substring collision risk between two distinct (prompt, model) pairs in
// practice the hash absorbs that, but a stable separator keeps the
// construction legible and matches spec.md §4.5's "stable separator"
// requirement.
const separator = "\x00model\x00"

// Fingerprint deterministically maps (prompt, model) to a bounded-length
// key. Byte-identical (prompt, model) pairs always yield the same
// fingerprint; no whitespace or case normalization is applied, per
// spec.md §4.5 ("byte-equality is the contract").
func Fingerprint(prompt, model string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte(separator))
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}
