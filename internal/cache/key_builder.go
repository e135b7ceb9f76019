package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeQuery folds case and whitespace so that trivially different
// prompts share one cache entry.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// BuildQueryKey builds a QueryKey from:
//   - the raw query text (normalized before hashing),
//   - versionID (gateway version for invalidation).
func BuildQueryKey(query, versionID string) QueryKey {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))

	return QueryKey{
		VersionID: strings.TrimSpace(versionID),
		Hash:      hex.EncodeToString(sum[:]),
	}
}
