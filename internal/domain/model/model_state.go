package model

import "time"

// ModelState is one versioned snapshot of a project's trained model.
// Exactly one version is "current" per project at any instant; the current
// pointer lives on the Project row and only moves via the aggregator's
// atomic swap. Superseded versions are retained for rollback.
type ModelState struct {
	ProjectID   string
	Version     int64
	ArtifactRef string
	JobID       string
	CreatedAt   time.Time
}
