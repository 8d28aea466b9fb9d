package fixture

import (
	"context"
	"fmt"

	"github.com/dinqhq/profile-engine/engine/fetch"
)

// Simple builds the single resource.<source>.fetch Fetcher shared by the
// shallow sources from §9 (huggingface, twitter, openreview, youtube): one
// fixture payload containing every key the corresponding simpleDerive
// table entry reads back out (one top-level key per user card).
func Simple(source string, cardTypes ...string) fetch.Fetcher {
	return func(ctx context.Context, input map[string]string, fc fetch.Context) (fetch.Payload, error) {
		handle := identity(input)
		reportProgress(fc, "fetching", "fetching "+source+" profile")
		p := fetch.Payload{
			"profile": map[string]any{
				"handle": handle,
				"name":   fmt.Sprintf("%s (fixture)", handle),
			},
		}
		for _, ct := range cardTypes {
			if ct == "profile" {
				continue
			}
			p[ct] = simpleCardFixture(source, ct, handle)
		}
		return p, nil
	}
}

func simpleCardFixture(source, cardType, handle string) any {
	switch cardType {
	case "summary":
		return map[string]any{"text": fmt.Sprintf("Fixture %s summary for %s.", source, handle)}
	case "stats":
		return map[string]any{"followers": 1024, "posts": 312}
	case "network":
		return map[string]any{"mutuals": 18, "notable_connections": []any{"fixture-peer-1", "fixture-peer-2"}}
	case "papers":
		return map[string]any{"items": []any{
			map[string]any{"title": "Fixture Paper One", "year": 2023},
			map[string]any{"title": "Fixture Paper Two", "year": 2024},
		}}
	default:
		return map[string]any{}
	}
}
