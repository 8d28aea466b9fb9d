package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// SubjectKey deterministically derives a Job's cross-job cache identity
// from (source, input), per engine.Job's SubjectKey invariant: two
// requests for the same source with the same input keys/values always
// produce the same key, regardless of map iteration order. The key is
// stored on the Job; store.ArtifactStore is keyed by (job, type) and has no
// lookup by subject key.
func SubjectKey(source string, input map[string]string) string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(source)))
	for _, k := range keys {
		b.WriteByte('\x1f')
		b.WriteString(k)
		b.WriteByte('\x1e')
		b.WriteString(input[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
