package adapter

import "context"

// MergeRunner combines the partial model updates of one training job into a
// single artifact and returns its reference. The numerical merge itself runs
// worker-side/offline; the controller only consumes the resulting reference.
type MergeRunner interface {
	Merge(ctx context.Context, projectID, jobID string, partialRefs []string) (string, error)
}
