package plan

import (
	"crypto/sha256"
	"encoding/hex"
)

// checksumBytes returns the hex-encoded SHA-256 of content, the form
// stored in Plan.FileChecksums and compared against at apply time to
// detect drift (spec §4.4.1 step 6, §4.4.3 step 1).
func checksumBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
