// Package rules is the RulesEngine: it turns a (source, requested_cards)
// pair into the ordered card DAG a job executes, per SPEC_FULL.md §4.1.
// Built-in plans are registered for github, scholar, and linkedin (the rich,
// multi-stage DAGs worked through in the design) plus a shared single-stage
// plan for the shallower sources the original implementation also supports
// (huggingface, twitter, openreview, youtube; see SPEC_FULL.md §9).
package rules

import (
	"fmt"
	"sort"

	"github.com/dinqhq/profile-engine/engine/store"
)

// Planner produces the full, deterministic card universe for a source. The
// Engine itself handles requested_cards filtering so individual planners
// stay simple declarations of the full DAG.
type Planner func() []store.CardDescriptor

// Engine is a registry of per-source Planners, optionally overridden by a
// loaded YAML overlay (see LoadYAML).
type Engine struct {
	planners map[string]Planner
}

// New constructs an Engine seeded with the built-in plans.
func New() *Engine {
	e := &Engine{planners: make(map[string]Planner)}
	e.planners["github"] = githubPlan
	e.planners["scholar"] = scholarPlan
	e.planners["linkedin"] = linkedinPlan
	e.planners["huggingface"] = simplePlan("huggingface", "profile", "summary")
	e.planners["twitter"] = simplePlan("twitter", "profile", "stats", "network", "summary")
	e.planners["openreview"] = simplePlan("openreview", "profile", "papers", "summary")
	e.planners["youtube"] = simplePlan("youtube", "profile", "summary")
	return e
}

// Register installs or overrides the Planner for source. Used by LoadYAML
// and by tests that need a synthetic source.
func (e *Engine) Register(source string, p Planner) {
	e.planners[source] = p
}

// Plan returns the ordered card descriptors for source, filtered to
// requested (and their transitive dependencies) when requested is
// non-empty. The plan is deterministic for the same (source, requested).
func (e *Engine) Plan(source string, requested []string) ([]store.CardDescriptor, error) {
	p, ok := e.planners[source]
	if !ok {
		return nil, fmt.Errorf("rules: unrecognized source %q", source)
	}
	full := p()
	if len(requested) == 0 {
		return full, nil
	}
	return filterToRequested(full, requested), nil
}

// filterToRequested keeps full_report, every requested user-facing card,
// and the transitive closure of their dependencies; full_report's own
// depends_on is narrowed to whatever user cards survived the filter.
func filterToRequested(full []store.CardDescriptor, requested []string) []store.CardDescriptor {
	byType := make(map[string]store.CardDescriptor, len(full))
	for _, d := range full {
		byType[d.CardType] = d
	}
	want := make(map[string]bool, len(requested))
	for _, r := range requested {
		want[r] = true
	}
	want["full_report"] = true

	keep := make(map[string]bool)
	var include func(cardType string)
	include = func(cardType string) {
		if keep[cardType] {
			return
		}
		d, ok := byType[cardType]
		if !ok {
			return
		}
		keep[cardType] = true
		for _, dep := range d.DependsOn {
			include(dep)
		}
	}
	for ct := range want {
		include(ct)
	}

	out := make([]store.CardDescriptor, 0, len(keep))
	for _, d := range full {
		if !keep[d.CardType] {
			continue
		}
		if d.CardType == "full_report" {
			filteredDeps := make([]string, 0, len(d.DependsOn))
			for _, dep := range d.DependsOn {
				if keep[dep] {
					filteredDeps = append(filteredDeps, dep)
				}
			}
			d.DependsOn = filteredDeps
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func card(cardType string, dependsOn []string, priority int, group string) store.CardDescriptor {
	return store.CardDescriptor{
		CardType:         cardType,
		DependsOn:        dependsOn,
		Priority:         priority,
		ConcurrencyGroup: group,
		Input:            map[string]string{},
	}
}

// githubPlan is the worked DAG from §4.1: three scrape-stage resource nodes
// (profile, preview, data), with data feeding an llm-stage enrichment. A
// resource.github.best_pr refinement card is not part of this plan, and no
// handler in this module enqueues one.
func githubPlan() []store.CardDescriptor {
	return []store.CardDescriptor{
		card("resource.github.profile", nil, 0, "scrape:github"),
		card("resource.github.preview", []string{"resource.github.profile"}, 0, "scrape:github"),
		card("resource.github.data", []string{"resource.github.profile"}, 0, "scrape:github"),
		card("resource.github.enrich", []string{"resource.github.data"}, 1, "llm"),

		card("profile", []string{"resource.github.data"}, 0, ""),
		card("activity", []string{"resource.github.data"}, 0, ""),
		card("repos", []string{"resource.github.data"}, 0, ""),
		card("role_model", []string{"resource.github.enrich"}, 1, ""),
		card("roast", []string{"resource.github.enrich"}, 1, ""),
		card("summary", []string{"resource.github.enrich"}, 1, ""),

		card("full_report", []string{"profile", "activity", "repos", "role_model", "roast", "summary"}, 2, ""),
	}
}

func scholarPlan() []store.CardDescriptor {
	return []store.CardDescriptor{
		card("resource.scholar.base", nil, 0, "scrape:scholar"),
		card("resource.scholar.full", []string{"resource.scholar.base"}, 0, "scrape:scholar"),
		card("resource.scholar.level", []string{"resource.scholar.full"}, 1, "llm"),

		card("researcherInfo", []string{"resource.scholar.full"}, 0, ""),
		card("publicationStats", []string{"resource.scholar.full"}, 0, ""),
		card("paperOfYear", []string{"resource.scholar.full"}, 0, ""),
		card("representativePaper", []string{"resource.scholar.full"}, 0, ""),
		card("publicationInsight", []string{"resource.scholar.level"}, 1, ""),
		card("roleModel", []string{"resource.scholar.level"}, 1, ""),
		card("closestCollaborator", []string{"resource.scholar.level"}, 1, ""),
		card("estimatedSalary", []string{"resource.scholar.level"}, 1, ""),
		card("researcherCharacter", []string{"resource.scholar.level"}, 1, ""),
		card("criticalReview", []string{"resource.scholar.level"}, 1, ""),

		card("full_report", []string{
			"researcherInfo", "publicationStats", "paperOfYear", "representativePaper",
			"publicationInsight", "roleModel", "closestCollaborator", "estimatedSalary",
			"researcherCharacter", "criticalReview",
		}, 2, ""),
	}
}

func linkedinPlan() []store.CardDescriptor {
	return []store.CardDescriptor{
		card("resource.linkedin.preview", nil, 0, "scrape:linkedin"),
		card("resource.linkedin.raw_profile", []string{"resource.linkedin.preview"}, 0, "scrape:linkedin"),
		card("resource.linkedin.enrich", []string{"resource.linkedin.raw_profile"}, 1, "llm"),

		card("profile", []string{"resource.linkedin.raw_profile"}, 0, ""),
		card("skills", []string{"resource.linkedin.raw_profile"}, 0, ""),
		card("career", []string{"resource.linkedin.raw_profile"}, 0, ""),
		card("role_model", []string{"resource.linkedin.enrich"}, 1, ""),
		card("money", []string{"resource.linkedin.enrich"}, 1, ""),
		card("roast", []string{"resource.linkedin.enrich"}, 1, ""),
		card("summary", []string{"resource.linkedin.enrich"}, 1, ""),

		card("full_report", []string{"profile", "skills", "career", "role_model", "money", "roast", "summary"}, 2, ""),
	}
}

// simplePlan builds the shallow, single-resource DAG shared by the
// supplemented sources (§9): one fetch card feeding a flat set of
// user-facing cards with no llm-stage enrichment.
func simplePlan(source string, userCards ...string) Planner {
	return func() []store.CardDescriptor {
		fetch := "resource." + source + ".fetch"
		out := []store.CardDescriptor{
			card(fetch, nil, 0, "scrape:"+source),
		}
		for _, ct := range userCards {
			out = append(out, card(ct, []string{fetch}, 0, ""))
		}
		out = append(out, card("full_report", append([]string{}, userCards...), 1, ""))
		return out
	}
}
