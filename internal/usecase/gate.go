package usecase

import "sync"

// ProjectGate serializes every state transition that touches one project's
// running-job count or current model state. One mutex per project keeps
// admissions and aggregations for the same project single-threaded while
// different projects proceed fully in parallel.
type ProjectGate struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewProjectGate() *ProjectGate {
	return &ProjectGate{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the project's mutex and returns the unlock func.
func (g *ProjectGate) Lock(projectID string) func() {
	g.mu.Lock()
	m, ok := g.locks[projectID]
	if !ok {
		m = &sync.Mutex{}
		g.locks[projectID] = m
	}
	g.mu.Unlock()
	m.Lock()
	return m.Unlock
}
