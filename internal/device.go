package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBindingValue fingerprints a device attribute (IP, user agent) so the
// raw value is not carried inside tokens.
func HashBindingValue(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:16])
}
