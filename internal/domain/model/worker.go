package model

import "time"

// Capability tags advertised by workers. The dispatcher only filters on
// these; it never interprets them.
const (
	CapabilityTrain     = "train"
	CapabilityInference = "inference"
	CapabilityGPU       = "gpu"
	CapabilityCPU       = "cpu"
)

// Worker is a weak reference to a remote execution agent: an identifier plus
// what we last observed about it. The controller never owns a worker's
// lifecycle.
type Worker struct {
	ID            string
	Tags          []string
	LastHeartbeat time.Time
	InFlight      int
}

func (w *Worker) HasTag(tag string) bool {
	for _, t := range w.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RequiredCapability maps a job kind to the capability tag a worker must
// advertise to receive its tasks.
func RequiredCapability(kind JobKind) string {
	if kind == JobKindTrain {
		return CapabilityTrain
	}
	return CapabilityInference
}
