package registry

import "annotation-ml-controller/internal/domain/model"

// WorkerRegistry tracks which workers are currently connected and what they
// advertise. Implementations hold weak references only (id + last observed
// heartbeat); nothing here owns a worker's lifecycle.
type WorkerRegistry interface {
	Upsert(w *model.Worker)
	Remove(id string)
	Heartbeat(id string)
	// Eligible returns connected, non-expired workers advertising the
	// capability tag.
	Eligible(capability string) []*model.Worker
	IncInFlight(id string)
	DecInFlight(id string)
	Snapshot() []*model.Worker
}
