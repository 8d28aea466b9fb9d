package executor

import (
	"context"
	"fmt"

	"github.com/dinqhq/profile-engine/engine"
	"github.com/dinqhq/profile-engine/engine/pipelineerr"
)

// fieldSpec names which artifact a derived user-facing card reads and which
// top-level keys of that artifact's payload become its output, mirroring
// the original implementation's extract_card_payload field-selection table
// but adapted to this module's per-resource-card artifacts rather than one
// monolithic full_report dict.
type fieldSpec struct {
	ArtifactType string
	Keys         []string
	// Unwrap is set when Keys has exactly one entry whose value is itself
	// the card's whole output object (e.g. the enrich artifact's
	// "role_model" sub-object becomes the role_model card's Data directly),
	// rather than being nested one level under that key.
	Unwrap bool
	// Rename maps an artifact key to its output key, applied before Unwrap.
	Rename map[string]string
}

// deriveTable maps (source, card_type) to the fieldSpec describing how to
// build that card's output from an already-saved artifact. Streamed cards
// (see delta.GetSpec) are deliberately absent: those are computed live via
// an LLM call instead of read back from a stored artifact.
var deriveTable = buildDeriveTable()

func buildDeriveTable() map[string]map[string]fieldSpec {
	t := map[string]map[string]fieldSpec{
		"github": {
			"profile":    {ArtifactType: "resource.github.data", Keys: []string{"user"}, Unwrap: true},
			"activity":   {ArtifactType: "resource.github.data", Keys: []string{"overview", "activity", "code_contribution"}},
			"repos":      {ArtifactType: "resource.github.data", Keys: []string{"feature_project", "top_projects", "most_valuable_pull_request"}},
			"role_model": {ArtifactType: "resource.github.enrich", Keys: []string{"role_model"}, Unwrap: true},
			"summary":    {ArtifactType: "resource.github.enrich", Keys: []string{"valuation_and_level"}, Unwrap: true},
		},
		"scholar": {
			"researcherInfo":      {ArtifactType: "resource.scholar.full", Keys: []string{"researcherInfo"}, Unwrap: true},
			"publicationStats":    {ArtifactType: "resource.scholar.full", Keys: []string{"publicationStats"}, Unwrap: true},
			"paperOfYear":         {ArtifactType: "resource.scholar.full", Keys: []string{"paperOfYear"}, Unwrap: true},
			"representativePaper": {ArtifactType: "resource.scholar.full", Keys: []string{"representativePaper"}, Unwrap: true},
			"publicationInsight":  {ArtifactType: "resource.scholar.level", Keys: []string{"publicationInsight"}, Unwrap: true},
			"roleModel":           {ArtifactType: "resource.scholar.level", Keys: []string{"roleModel"}, Unwrap: true},
			"closestCollaborator": {ArtifactType: "resource.scholar.level", Keys: []string{"closestCollaborator"}, Unwrap: true},
			"estimatedSalary":     {ArtifactType: "resource.scholar.level", Keys: []string{"estimatedSalary"}, Unwrap: true},
			"researcherCharacter": {ArtifactType: "resource.scholar.level", Keys: []string{"researcherCharacter"}, Unwrap: true},
		},
		"linkedin": {
			"profile":    {ArtifactType: "resource.linkedin.raw_profile", Keys: []string{"profile"}, Unwrap: true},
			"skills":     {ArtifactType: "resource.linkedin.raw_profile", Keys: []string{"skills"}, Unwrap: true},
			"career":     {ArtifactType: "resource.linkedin.raw_profile", Keys: []string{"career"}, Unwrap: true},
			"role_model": {ArtifactType: "resource.linkedin.enrich", Keys: []string{"role_model"}, Unwrap: true},
			"money":      {ArtifactType: "resource.linkedin.enrich", Keys: []string{"money_analysis"}, Rename: map[string]string{"money_analysis": "money"}},
		},
	}
	t["huggingface"] = simpleDerive("huggingface", "profile", "summary")
	t["twitter"] = simpleDerive("twitter", "profile", "stats", "network", "summary")
	t["openreview"] = simpleDerive("openreview", "profile", "papers", "summary")
	t["youtube"] = simpleDerive("youtube", "profile", "summary")
	return t
}

// simpleDerive builds the derivation table for a shallow, single-resource
// source (§9): every user-facing card reads its own top-level key straight
// out of the one resource.<source>.fetch artifact.
func simpleDerive(source string, cardTypes ...string) map[string]fieldSpec {
	artifact := "resource." + source + ".fetch"
	out := make(map[string]fieldSpec, len(cardTypes))
	for _, ct := range cardTypes {
		out[ct] = fieldSpec{ArtifactType: artifact, Keys: []string{ct}, Unwrap: true}
	}
	return out
}

// genericDeriveHandler is the CardHandler for every non-streamed
// user-facing card: it looks up the card's fieldSpec by (job source, card
// type) and reshapes the named upstream artifact into the card's output.
func genericDeriveHandler(ctx context.Context, hc *HandlerContext) (engine.CardOutput, error) {
	bySource, ok := deriveTable[hc.Job.Source]
	if !ok {
		return engine.CardOutput{}, pipelineerr.New(pipelineerr.Internal, fmt.Sprintf("no derivation table for source %q", hc.Job.Source))
	}
	spec, ok := bySource[hc.Card.CardType]
	if !ok {
		return engine.CardOutput{}, pipelineerr.New(pipelineerr.Internal, fmt.Sprintf("no derivation rule for %s/%s", hc.Job.Source, hc.Card.CardType))
	}

	art, err := hc.Artifacts.GetArtifact(ctx, hc.Job.ID, spec.ArtifactType)
	if err != nil {
		return engine.CardOutput{}, pipelineerr.Wrap(pipelineerr.Internal, "reading upstream artifact", err)
	}
	if art == nil {
		return engine.CardOutput{}, pipelineerr.New(pipelineerr.UpstreamUnavailable, fmt.Sprintf("missing artifact %s for job %s", spec.ArtifactType, hc.Job.ID))
	}

	if spec.Unwrap {
		if len(spec.Keys) != 1 {
			return engine.CardOutput{}, pipelineerr.New(pipelineerr.Internal, "unwrap derivation requires exactly one key")
		}
		sub, _ := art.Payload[spec.Keys[0]].(map[string]any)
		hc.Progress("derive", "derived from "+spec.ArtifactType, nil)
		return engine.CardOutput{Data: sub}, nil
	}

	out := make(map[string]any, len(spec.Keys))
	for _, k := range spec.Keys {
		v, present := art.Payload[k]
		if !present {
			continue
		}
		outKey := k
		if r, ok := spec.Rename[k]; ok {
			outKey = r
		}
		out[outKey] = v
	}
	hc.Progress("derive", "derived from "+spec.ArtifactType, nil)
	return engine.CardOutput{Data: out}, nil
}
