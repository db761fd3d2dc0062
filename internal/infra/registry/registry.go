package registry

import (
	"sort"
	"sync"
	"time"

	"annotation-ml-controller/internal/domain/model"
	regport "annotation-ml-controller/internal/domain/ports/registry"
	"annotation-ml-controller/internal/infra/metrics"
)

var _ regport.WorkerRegistry = (*Registry)(nil)

// Registry tracks connected workers keyed by id. Liveness is explicit: a
// worker whose heartbeat is older than the expiry window is invisible to
// Eligible and gets removed by the next Prune pass.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*model.Worker
	expiry  time.Duration
}

func New(expiry time.Duration) *Registry {
	return &Registry{workers: make(map[string]*model.Worker), expiry: expiry}
}

func (r *Registry) Upsert(w *model.Worker) {
	r.mu.Lock()
	cp := *w
	if cp.LastHeartbeat.IsZero() {
		cp.LastHeartbeat = time.Now()
	}
	if existing, ok := r.workers[cp.ID]; ok {
		// Keep the controller-maintained in-flight count across heartbeats.
		cp.InFlight = existing.InFlight
	}
	r.workers[cp.ID] = &cp
	n := len(r.workers)
	r.mu.Unlock()
	metrics.SetConnectedWorkers(n)
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.workers, id)
	n := len(r.workers)
	r.mu.Unlock()
	metrics.SetConnectedWorkers(n)
}

func (r *Registry) Heartbeat(id string) {
	r.mu.Lock()
	if w, ok := r.workers[id]; ok {
		w.LastHeartbeat = time.Now()
	}
	r.mu.Unlock()
}

func (r *Registry) Eligible(capability string) []*model.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := time.Now().Add(-r.expiry)
	var res []*model.Worker
	for _, w := range r.workers {
		if w.LastHeartbeat.Before(cutoff) {
			continue
		}
		if w.HasTag(capability) {
			cp := *w
			res = append(res, &cp)
		}
	}
	return res
}

func (r *Registry) IncInFlight(id string) {
	r.mu.Lock()
	if w, ok := r.workers[id]; ok {
		w.InFlight++
	}
	r.mu.Unlock()
}

func (r *Registry) DecInFlight(id string) {
	r.mu.Lock()
	if w, ok := r.workers[id]; ok && w.InFlight > 0 {
		w.InFlight--
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of every registered worker, expired or not, sorted
// by id for the admin API.
func (r *Registry) Snapshot() []*model.Worker {
	r.mu.RLock()
	res := make([]*model.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		res = append(res, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// PruneExpired drops workers whose heartbeat is older than the expiry window
// and returns their ids so the supervisor can reassign their tasks.
func (r *Registry) PruneExpired() []string {
	cutoff := time.Now().Add(-r.expiry)
	r.mu.Lock()
	var removed []string
	for id, w := range r.workers {
		if w.LastHeartbeat.Before(cutoff) {
			delete(r.workers, id)
			removed = append(removed, id)
		}
	}
	n := len(r.workers)
	r.mu.Unlock()
	metrics.SetConnectedWorkers(n)
	return removed
}
