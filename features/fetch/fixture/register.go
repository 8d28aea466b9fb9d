package fixture

import "github.com/dinqhq/profile-engine/engine/fetch"

// RegisterAll installs every fixture Fetcher into reg, covering all
// resource.* card types the built-in engine/rules plans (github, scholar,
// linkedin, and the simple §9 sources) can produce. Intended for demos and
// deterministic integration tests that exercise the full scheduler/
// executor/store pipeline without real upstream calls.
func RegisterAll(reg *fetch.Registry) {
	reg.Register("resource.github.profile", GithubProfile)
	reg.Register("resource.github.preview", GithubPreview)
	reg.Register("resource.github.data", GithubData)
	reg.Register("resource.github.enrich", GithubEnrich)

	reg.Register("resource.scholar.base", ScholarBase)
	reg.Register("resource.scholar.full", ScholarFull)
	reg.Register("resource.scholar.level", ScholarLevel)

	reg.Register("resource.linkedin.preview", LinkedinPreview)
	reg.Register("resource.linkedin.raw_profile", LinkedinRawProfile)
	reg.Register("resource.linkedin.enrich", LinkedinEnrich)

	reg.Register("resource.huggingface.fetch", Simple("huggingface", "profile", "summary"))
	reg.Register("resource.twitter.fetch", Simple("twitter", "profile", "stats", "network", "summary"))
	reg.Register("resource.openreview.fetch", Simple("openreview", "profile", "papers", "summary"))
	reg.Register("resource.youtube.fetch", Simple("youtube", "profile", "summary"))
}
