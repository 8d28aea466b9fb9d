package engine

import "time"

// Artifact is a typed blob attached to a Job: the output of a resource-fetch
// card, or the assembled "full_report" aggregate. Artifacts are owned by the
// job; a (JobID, Type) pair may be overwritten once (write-then-stable) and
// read freely thereafter.
type Artifact struct {
	// JobID identifies the owning Job.
	JobID string
	// Type matches a card-type (for resource artifacts) or the sentinel
	// "full_report" for the assembled aggregate.
	Type string
	// Payload is opaque to the store; it is whatever the producing card
	// returned.
	Payload map[string]any
	// CreatedAt records when the artifact was first saved.
	CreatedAt time.Time
}

// FullReportArtifactType is the sentinel artifact type for the assembled,
// terminal aggregation of a job's cards.
const FullReportArtifactType = "full_report"
