package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectDeltas(emitted *[]Delta) Sink {
	return func(d Delta) { *emitted = append(*emitted, d) }
}

func TestEmitterFlushesOnFlushCharsThreshold(t *testing.T) {
	t.Parallel()

	var emitted []Delta
	e := NewEmitter(collectDeltas(&emitted), "roast", Spec{Field: "roast", FlushChars: 40})

	e.OnDelta("this is a long enough chunk of text to trip the flush threshold")
	require.Len(t, emitted, 1)
	assert.Equal(t, "roast", emitted[0].Card)
	assert.Equal(t, "roast", emitted[0].Field)
	assert.Equal(t, "main", emitted[0].Section)
}

func TestEmitterFlushesOnParagraphBreak(t *testing.T) {
	t.Parallel()

	var emitted []Delta
	e := NewEmitter(collectDeltas(&emitted), "roast", Spec{})

	e.OnDelta("short\n\n")
	require.Len(t, emitted, 1)
	assert.Equal(t, "short\n\n", emitted[0].Text)
}

// TestEmitterMarkerSplitAcrossChunks is the case the review explicitly
// calls out: a "<!--section:NAME-->" marker whose bytes straddle two
// separate OnDelta calls must still be recognized as a single marker, not
// leak literal "<!--" text into the preceding section, and correctly
// reroute subsequent text to the new section.
func TestEmitterMarkerSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	var emitted []Delta
	e := NewEmitter(collectDeltas(&emitted), "criticalreview", Spec{
		Field:      "evaluation",
		Sections:   []string{"strengths", "weaknesses"},
		Section:    "strengths",
		Route:      "marker",
		FlushChars: 1000,
	})

	e.OnDelta("solid fundamentals")
	// Split the marker right in the middle of the opening delimiter.
	e.OnDelta("<!")
	e.OnDelta("--section:weaknesses-->needs more tests")
	e.Flush()

	require.Len(t, emitted, 2, "the section switch must force a flush of the strengths buffer before weaknesses text arrives")
	assert.Equal(t, "strengths", emitted[0].Section)
	assert.Equal(t, "solid fundamentals", emitted[0].Text)
	assert.Equal(t, "weaknesses", emitted[1].Section)
	assert.Equal(t, "needs more tests", emitted[1].Text)
}

// TestEmitterMarkerSplitAcrossManyChunks further fragments the marker,
// one byte at a time, to ensure the carry-over buffer correctly
// accumulates an arbitrarily-fragmented delimiter.
func TestEmitterMarkerSplitAcrossManyChunks(t *testing.T) {
	t.Parallel()

	var emitted []Delta
	e := NewEmitter(collectDeltas(&emitted), "criticalreview", Spec{
		Sections:   []string{"strengths", "weaknesses"},
		Section:    "strengths",
		Route:      "marker",
		FlushChars: 1000,
	})

	e.OnDelta("intro text")
	marker := "<!--section:weaknesses-->tail"
	for _, r := range marker {
		e.OnDelta(string(r))
	}
	e.Flush()

	require.Len(t, emitted, 2)
	assert.Equal(t, "strengths", emitted[0].Section)
	assert.Equal(t, "intro text", emitted[0].Text)
	assert.Equal(t, "weaknesses", emitted[1].Section)
	assert.Equal(t, "tail", emitted[1].Text)
}

func TestEmitterUnknownMarkerPreservedAsLiteralText(t *testing.T) {
	t.Parallel()

	var emitted []Delta
	e := NewEmitter(collectDeltas(&emitted), "criticalreview", Spec{
		Sections:   []string{"strengths", "weaknesses"},
		Route:      "marker",
		FlushChars: 1000,
	})

	e.OnDelta("before<!--section:unknown-->after")
	e.Flush()

	require.Len(t, emitted, 1)
	assert.Equal(t, "before<!--section:unknown-->after", emitted[0].Text)
}

func TestEmitterFlushIsNoOpWhenBufferEmpty(t *testing.T) {
	t.Parallel()

	var emitted []Delta
	e := NewEmitter(collectDeltas(&emitted), "roast", Spec{})
	e.Flush()
	assert.Empty(t, emitted)
}

func TestGetSpecLooksUpBySourceAndCardTypeCaseInsensitively(t *testing.T) {
	t.Parallel()

	spec, ok := GetSpec("GitHub", "Roast")
	require.True(t, ok)
	assert.Equal(t, "roast", spec.Field)

	_, ok = GetSpec("github", "profile")
	assert.False(t, ok, "non-streamed structured cards must not have a registered spec")
}
