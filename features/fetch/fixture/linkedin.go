package fixture

import (
	"context"
	"fmt"

	"github.com/dinqhq/profile-engine/engine/fetch"
)

// LinkedinPreview is resource.linkedin.preview: SPEC_FULL.md §8 scenario 3
// verbatim — it completes fast and prefills the profile card with a
// degraded subset ({name, avatar, about} + meta.degraded=true) ahead of
// resource.linkedin.raw_profile's fuller scrape. The prefilled data and
// the raw_profile-derived data are expected to merge, with raw_profile's
// own fields winning on conflict (§4.8's atomic prefill semantics).
func LinkedinPreview(ctx context.Context, input map[string]string, fc fetch.Context) (fetch.Payload, error) {
	handle := identity(input)
	reportProgress(fc, "fetching", "fetching preview card")
	if fc.Prefill != nil {
		fc.Prefill("profile", map[string]any{
			"name":   fmt.Sprintf("%s (fixture)", handle),
			"avatar": "",
			"about":  "",
			"meta":   map[string]any{"degraded": true},
		})
	}
	return payload("handle", handle, "preview", true), nil
}

// LinkedinRawProfile is resource.linkedin.raw_profile: the fuller scrape
// stage the profile/skills/career user cards and resource.linkedin.enrich
// all derive from.
func LinkedinRawProfile(ctx context.Context, input map[string]string, fc fetch.Context) (fetch.Payload, error) {
	handle := identity(input)
	reportProgress(fc, "fetching", "fetching full profile")
	return payload(
		"profile", map[string]any{
			"name":    fmt.Sprintf("%s (fixture)", handle),
			"avatar":  fmt.Sprintf("https://example.test/avatars/%s.png", handle),
			"about":   "Fixture professional summary for " + handle,
			"headline": "Senior Fixture Engineer",
		},
		"skills", map[string]any{
			"top": []any{"Go", "Distributed Systems", "Leadership"},
		},
		"career", map[string]any{
			"current_title":   "Senior Fixture Engineer",
			"current_company": "Fixture Corp",
			"years_experience": 9,
		},
	), nil
}

// LinkedinEnrich is resource.linkedin.enrich: the llm-group resource node
// feeding role_model/money/roast/summary.
func LinkedinEnrich(ctx context.Context, input map[string]string, fc fetch.Context) (fetch.Payload, error) {
	handle := identity(input)
	reportProgress(fc, "enriching", "assessing career trajectory")
	return payload(
		"role_model", map[string]any{
			"name":   "Fixture Executive",
			"reason": "Comparable career arc to " + handle,
		},
		"money_analysis", map[string]any{
			"estimated_total_comp": 210000,
			"currency":             "USD",
		},
	), nil
}
