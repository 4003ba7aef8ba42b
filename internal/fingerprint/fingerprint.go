// Package fingerprint computes the SHA-256 digests used for deduplication and
// content cache keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/fleetinfo/portal/internal/portal"
)

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Keywords returns the cache key for a keyword set within a region. Keywords
// are normalized first, so order, case and duplicates do not change the key.
func Keywords(keywords []string, regionCode string) string {
	normalized := portal.NormalizeKeywords(keywords)
	return Sum([]byte(strings.Join(normalized, ",") + "|" + strings.ToLower(strings.TrimSpace(regionCode))))
}

// URL returns the dedup key of a scraped item URL.
func URL(rawURL string) string {
	return Sum([]byte(strings.TrimSpace(rawURL)))
}
