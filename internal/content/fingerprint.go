package content

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the content-derived hash used for change detection:
// hex-encoded SHA-256 of the canonical source bytes. Byte-identical source
// content always produces the same fingerprint.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
