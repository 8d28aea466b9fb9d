package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinqhq/profile-engine/engine/scheduler"
)

func TestNewRejectsMissingInnerEngine(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{TaskQueue: "profile-engine"})
	require.Error(t, err)
}

func TestNewRejectsMissingTaskQueue(t *testing.T) {
	t.Parallel()

	_, err := New(&scheduler.Engine{}, Options{})
	require.Error(t, err)
}

func TestNormalizePollIntervalDefaultsWhenUnset(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2*time.Second, normalizePollInterval(0))
	assert.Equal(t, 2*time.Second, normalizePollInterval(-time.Second))
}

func TestNormalizePollIntervalPreservesExplicitValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 500*time.Millisecond, normalizePollInterval(500*time.Millisecond))
}

func TestIsAlreadyStarted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unrelated error", err: errors.New("connection refused"), want: false},
		{name: "already started", err: errors.New("workflow execution already started"), want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isAlreadyStarted(tc.err))
		})
	}
}
