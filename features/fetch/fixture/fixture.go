// Package fixture implements engine/fetch.Fetcher for every resource.*
// card type the built-in engine/rules plans produce, backed entirely by
// canned, in-memory data rather than real network calls. It exists for
// demos and deterministic end-to-end tests (SPEC_FULL.md §8's Testable
// Properties scenarios), grounded on the original implementation's
// fixture-backed test harness (original_source/tests' recorded responses)
// the same way the teacher's own features/fetch-equivalents stand in for
// a concrete upstream behind the ResourceFetcher interface.
package fixture

import (
	"fmt"

	"github.com/dinqhq/profile-engine/engine/fetch"
)

// identity returns input["content"] (the generic identity key every source
// uses: username, scholar_id, profile_url, ...), falling back to a stable
// placeholder when absent so fixtures remain deterministic even for an
// under-specified input.
func identity(input map[string]string) string {
	if v := input["content"]; v != "" {
		return v
	}
	return "fixture-subject"
}

func reportProgress(fc fetch.Context, step, message string) {
	if fc.Progress != nil {
		fc.Progress(step, message, nil)
	}
}

func payload(kv ...any) fetch.Payload {
	if len(kv)%2 != 0 {
		panic("fixture: payload requires an even number of key/value arguments")
	}
	p := make(fetch.Payload, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("fixture: payload key %v is not a string", kv[i]))
		}
		p[key] = kv[i+1]
	}
	return p
}
