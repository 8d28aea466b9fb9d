// Package fetch defines the ResourceFetcher contract: the only component
// allowed to perform external I/O (§4.10). Concrete fetchers live under
// features/fetch/*; this package is the interface plus the progress/prefill
// callback shapes fetchers are handed.
package fetch

import (
	"context"
	"time"
)

// Payload is the opaque, structured result of a fetch. Downstream
// derivation rules shape it into card outputs; the fetcher itself has no
// opinion about card-output shape.
type Payload map[string]any

// ProgressFunc lets a fetcher report a compact progress step while it
// works, surfaced as a card.progress event.
type ProgressFunc func(step, message string, data map[string]any)

// PrefillFunc lets a fetcher inject partial data into another,
// not-yet-run card (e.g. an early profile preview), surfaced as
// card.prefill per §4.8's atomic prefill semantics.
type PrefillFunc func(targetCardType string, data map[string]any)

// Context carries everything a Fetcher needs beyond its input: the
// cancellation-bearing ctx (honored between network calls), a soft
// deadline, and the progress/prefill callbacks.
type Context struct {
	Progress ProgressFunc
	Prefill  PrefillFunc
	// SoftDeadline is when the fetcher should start wrapping up and return
	// partial results plus a degraded progress event, per §4.10.
	SoftDeadline time.Time
}

// Fetcher is a pure function from (input, fc) to a Payload. Implementations
// must respect ctx cancellation between network calls and SHOULD honor
// fc.SoftDeadline by returning partial results rather than blocking past it.
type Fetcher func(ctx context.Context, input map[string]string, fc Context) (Payload, error)

// Registry dispatches by resource card type (e.g. "resource.github.profile").
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// Register installs f as the Fetcher for the given resource card type.
func (r *Registry) Register(cardType string, f Fetcher) {
	r.fetchers[cardType] = f
}

// Lookup returns the Fetcher registered for cardType, if any.
func (r *Registry) Lookup(cardType string) (Fetcher, bool) {
	f, ok := r.fetchers[cardType]
	return f, ok
}
