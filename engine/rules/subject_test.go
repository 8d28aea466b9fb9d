package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectKeyIsStableAcrossMapIterationOrder(t *testing.T) {
	t.Parallel()

	a := SubjectKey("github", map[string]string{"content": "octocat", "kind": "user"})
	b := SubjectKey("github", map[string]string{"kind": "user", "content": "octocat"})
	assert.Equal(t, a, b)
}

func TestSubjectKeyDiffersOnInputOrSource(t *testing.T) {
	t.Parallel()

	base := SubjectKey("github", map[string]string{"content": "octocat"})
	assert.NotEqual(t, base, SubjectKey("scholar", map[string]string{"content": "octocat"}))
	assert.NotEqual(t, base, SubjectKey("github", map[string]string{"content": "other"}))
}
