package fixture

import (
	"context"
	"fmt"

	"github.com/dinqhq/profile-engine/engine/fetch"
)

// GithubProfile is resource.github.profile: the cheap, no-deps scrape stage
// that resource.github.preview and resource.github.data both key off of.
func GithubProfile(ctx context.Context, input map[string]string, fc fetch.Context) (fetch.Payload, error) {
	login := identity(input)
	reportProgress(fc, "fetching", "fetching github profile")
	return payload(
		"login", login,
		"name", fmt.Sprintf("%s (fixture)", login),
		"avatar_url", fmt.Sprintf("https://example.test/avatars/%s.png", login),
		"bio", "Fixture bio for "+login,
		"followers", 128,
		"following", 42,
		"public_repos", 37,
	), nil
}

// GithubPreview is resource.github.preview (§8 scenario 3's LinkedIn
// analogue on the GitHub side): it prefills the profile card with a cheap
// subset of data ahead of resource.github.data's fuller scrape.
func GithubPreview(ctx context.Context, input map[string]string, fc fetch.Context) (fetch.Payload, error) {
	login := identity(input)
	reportProgress(fc, "fetching", "fetching preview")
	if fc.Prefill != nil {
		fc.Prefill("profile", map[string]any{
			"login": login,
			"name":  fmt.Sprintf("%s (fixture)", login),
			"meta":  map[string]any{"degraded": true},
		})
	}
	return payload("login", login, "preview", true), nil
}

// GithubData is resource.github.data: the richer scrape stage the
// profile/activity/repos user cards and resource.github.enrich all derive
// from, keyed exactly to the fields engine/executor's deriveTable expects.
func GithubData(ctx context.Context, input map[string]string, fc fetch.Context) (fetch.Payload, error) {
	login := identity(input)
	reportProgress(fc, "fetching", "fetching repositories and contribution graph")
	reportProgress(fc, "fetching", "fetching contribution graph")
	return payload(
		"user", map[string]any{
			"login":        login,
			"name":         fmt.Sprintf("%s (fixture)", login),
			"avatar_url":   fmt.Sprintf("https://example.test/avatars/%s.png", login),
			"bio":          "Fixture bio for " + login,
			"followers":    128,
			"public_repos": 37,
		},
		"overview", map[string]any{
			"top_language":      "Go",
			"account_age_years": 6,
		},
		"activity", map[string]any{
			"commits_last_year": 842,
			"prs_last_year":     63,
			"issues_last_year":  21,
		},
		"code_contribution", map[string]any{
			"longest_streak_days": 34,
			"active_days_last_year": 210,
		},
		"feature_project", map[string]any{
			"name":        login + "/flagship",
			"description": "Fixture flagship project",
			"stars":       512,
		},
		"top_projects", []any{
			map[string]any{"name": login + "/flagship", "stars": 512},
			map[string]any{"name": login + "/tooling", "stars": 88},
		},
		"most_valuable_pull_request", map[string]any{
			"title":  "Fix race condition in scheduler",
			"repo":   login + "/flagship",
			"merged": true,
		},
	), nil
}

// GithubEnrich is resource.github.enrich: the llm-group resource node.
// In production this would route through a ChatProvider (features/llm/*);
// the fixture stands in with deterministic enrichment output shaped
// exactly as engine/executor's deriveTable expects to read it back.
func GithubEnrich(ctx context.Context, input map[string]string, fc fetch.Context) (fetch.Payload, error) {
	login := identity(input)
	reportProgress(fc, "enriching", "deriving role model and valuation")
	return payload(
		"role_model", map[string]any{
			"name":   "Fixture Maintainer",
			"reason": "Similar focus on developer tooling as " + login,
		},
		"valuation_and_level", map[string]any{
			"level":   "senior",
			"summary": "Consistent, high-impact open source contributor.",
		},
	), nil
}
