// Package engine defines the core domain types of the analysis pipeline: jobs,
// cards, artifacts, and events. The Job API that composes the planning,
// storage, and scheduling primitives lives in the sibling package engine/api.
//
// Concrete storage, transport, and provider implementations live one level up,
// under features/, and satisfy the interfaces declared in engine/store,
// engine/fetch, and engine/llm.
package engine

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	// JobPending is the initial status assigned at creation, before the
	// scheduler has dispatched the first card.
	JobPending JobStatus = "pending"
	// JobRunning is set on first card dispatch.
	JobRunning JobStatus = "running"
	// JobCompleted is a terminal status: every required card reached a
	// terminal state successfully (or with an acceptable fallback).
	JobCompleted JobStatus = "completed"
	// JobFailed is a terminal status: a required card failed with no usable
	// fallback.
	JobFailed JobStatus = "failed"
	// JobCancelled is a terminal status set by an explicit cancellation.
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is one of the sticky terminal statuses.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is one analysis request: a GitHub login, a Scholar profile, a LinkedIn
// URL, or similar.
//
// Invariant: SubjectKey is derived deterministically from (Source, Input), so
// idempotent re-submission of the same identity hits cache (see
// rules.SubjectKey).
type Job struct {
	// ID is the opaque, caller-unresolvable job identifier.
	ID string
	// Source names the identity provider this job analyzes (e.g. "github",
	// "scholar", "linkedin").
	Source string
	// Input is the caller-supplied, recognized-keys-only input mapping (e.g.
	// {"content": "octocat"}).
	Input map[string]string
	// Options carries caller-tunable, non-identity configuration (e.g. which
	// cards were explicitly requested).
	Options map[string]string
	// UserID is the opaque owning-user identifier; authentication and quota
	// are out of scope and UserID is treated as already-authenticated input.
	UserID string
	// SubjectKey is the canonical identity derived from (Source, Input), used
	// for cross-job cache keying.
	SubjectKey string
	// Status is the current lifecycle state.
	Status JobStatus
	// CreatedAt records job creation time.
	CreatedAt time.Time
}
