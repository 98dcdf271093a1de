// Package checksum provides the content and identity digests used by the
// publisher: SHA-256 for converted page content, SHA-1 for key-derived
// labels and title suffixes.
package checksum

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA1 returns the hex-encoded SHA-1 digest of s. Identity labels and
// collision-proof title suffixes are derived from prefixes of this digest.
func SHA1(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}
