//go:build !integration

package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/domain"
	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/domain/ports/broker"
	"annotation-ml-controller/internal/domain/ports/repository"
)

var errForced = errors.New("forced failure")

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memJobRepo is a small in-memory implementation used by unit tests.
type memJobRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.Job
	saveErr error // used by tests to simulate save failures
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.Job)}
}

func (m *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	cp.InputRefs = append([]string(nil), job.InputRefs...)
	cp.TaskIDs = append([]string(nil), job.TaskIDs...)
	cp.ResultRefs = append([]string(nil), job.ResultRefs...)
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	cp.InputRefs = append([]string(nil), j.InputRefs...)
	cp.TaskIDs = append([]string(nil), j.TaskIDs...)
	cp.ResultRefs = append([]string(nil), j.ResultRefs...)
	return &cp, nil
}

func (m *memJobRepo) CountRunning(ctx context.Context, tx repository.Tx, projectID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, j := range m.store {
		if j.ProjectID != projectID {
			continue
		}
		switch j.Status {
		case model.JobStatusDispatched, model.JobStatusPartiallyComplete, model.JobStatusAggregating:
			n++
		}
	}
	return n, nil
}

func (m *memJobRepo) NextQueued(ctx context.Context, tx repository.Tx, projectID string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, j := range m.store {
		if j.ProjectID == projectID && j.Status == model.JobStatusQueued {
			ids = append(ids, j.ID)
		}
	}
	if len(ids) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Strings(ids)
	cp := *m.store[ids[0]]
	return &cp, nil
}

func (m *memJobRepo) HasActiveAuto(ctx context.Context, tx repository.Tx, projectID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.store {
		if j.ProjectID == projectID && j.Origin == model.JobOriginAuto && !j.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memJobRepo) ListByProject(ctx context.Context, tx repository.Tx, projectID string, limit int) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.store {
		if j.ProjectID == projectID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID > out[k].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTaskRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Task
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{store: make(map[string]*model.Task)}
}

func (m *memTaskRepo) Save(ctx context.Context, tx repository.Tx, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.store[task.ID] = &cp
	return nil
}

func (m *memTaskRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTaskRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Task
	for _, t := range m.store {
		if t.JobID == jobID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SentAt.Before(out[k].SentAt) })
	return out, nil
}

func (m *memTaskRepo) ListInFlightByWorker(ctx context.Context, tx repository.Tx, workerID string) ([]*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Task
	for _, t := range m.store {
		if t.WorkerID == workerID && t.InFlight() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTaskRepo) ListOverdue(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Task
	for _, t := range m.store {
		if t.InFlight() && t.SentAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memProjectRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Project
}

func newMemProjectRepo() *memProjectRepo {
	return &memProjectRepo{store: make(map[string]*model.Project)}
}

func (m *memProjectRepo) Save(ctx context.Context, tx repository.Tx, project *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *project
	m.store[project.ID] = &cp
	return nil
}

func (m *memProjectRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProjectRepo) EnsureExists(ctx context.Context, tx repository.Tx, id string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.store[id]; ok {
		cp := *p
		return &cp, nil
	}
	now := time.Now()
	p := &model.Project{ID: id, CreatedAt: now, UpdatedAt: now}
	m.store[id] = p
	cp := *p
	return &cp, nil
}

// memModelStateRepo emulates the transactional version allocation: Commit
// takes a lock, reads the max version and inserts, like the SQL path does
// under FOR UPDATE.
type memModelStateRepo struct {
	mu        sync.Mutex
	byProject map[string][]*model.ModelState
	byJob     map[string]*model.ModelState
	commitErr error
}

func newMemModelStateRepo() *memModelStateRepo {
	return &memModelStateRepo{
		byProject: make(map[string][]*model.ModelState),
		byJob:     make(map[string]*model.ModelState),
	}
}

func (m *memModelStateRepo) Commit(ctx context.Context, projectID, jobID, artifactRef string) (*model.ModelState, error) {
	if m.commitErr != nil {
		return nil, m.commitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, ms := range m.byProject[projectID] {
		if ms.Version > max {
			max = ms.Version
		}
	}
	ms := &model.ModelState{
		ProjectID:   projectID,
		Version:     max + 1,
		ArtifactRef: artifactRef,
		JobID:       jobID,
		CreatedAt:   time.Now(),
	}
	m.byProject[projectID] = append(m.byProject[projectID], ms)
	m.byJob[jobID] = ms
	cp := *ms
	return &cp, nil
}

func (m *memModelStateRepo) FindByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.ModelState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.byJob[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ms
	return &cp, nil
}

func (m *memModelStateRepo) FindCurrent(ctx context.Context, tx repository.Tx, projectID string) (*model.ModelState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := m.byProject[projectID]
	if len(states) == 0 {
		return nil, domain.ErrNotFound
	}
	cur := states[0]
	for _, ms := range states[1:] {
		if ms.Version > cur.Version {
			cur = ms
		}
	}
	cp := *cur
	return &cp, nil
}

// mockPublisher records published task messages per worker.
type mockPublisher struct {
	mu     sync.Mutex
	sent   map[string][]broker.TaskMessage // workerID -> messages
	pubErr error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{sent: make(map[string][]broker.TaskMessage)}
}

func (m *mockPublisher) Publish(ctx context.Context, workerID string, msg broker.TaskMessage) error {
	if m.pubErr != nil {
		return m.pubErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[workerID] = append(m.sent[workerID], msg)
	return nil
}

func (m *mockPublisher) totalSent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msgs := range m.sent {
		n += len(msgs)
	}
	return n
}

// mockMerger returns a fixed ref or an error; records invocations so tests
// can assert aggregation ran exactly once.
type mockMerger struct {
	mu       sync.Mutex
	calls    int
	ref      string
	mergeErr error
}

func (m *mockMerger) Merge(ctx context.Context, projectID, jobID string, partialRefs []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.mergeErr != nil {
		return "", m.mergeErr
	}
	if m.ref != "" {
		return m.ref, nil
	}
	return "merged/" + jobID, nil
}

func (m *mockMerger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// stubResultSource satisfies broker.ResultSource for collector construction;
// tests drive HandleResult directly.
type stubResultSource struct{}

func (stubResultSource) Next(ctx context.Context) (*broker.ResultMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
