//go:build !integration

package usecase

import (
	"time"

	"annotation-ml-controller/internal/config"
	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/infra/registry"
)

// testEnv wires the full scheduling pipeline over in-memory repos and the
// real worker registry, so scenarios can run submit -> dispatch -> result ->
// finalize end to end without external services.
type testEnv struct {
	jobs        *memJobRepo
	tasks       *memTaskRepo
	projects    *memProjectRepo
	modelStates *memModelStateRepo
	reg         *registry.Registry
	pub         *mockPublisher
	merger      *mockMerger
	gate        *ProjectGate

	dispatch   *DispatchUseCase
	admission  *AdmissionUseCase
	aggregator *AggregatorUseCase
	collector  *CollectorUseCase
	supervisor *SupervisorUseCase
}

func newTestEnv(globalCeiling int, sched config.SchedulerConfig) *testEnv {
	if sched.MaxWorkersTrain == 0 {
		sched.MaxWorkersTrain = -1
	}
	if sched.MaxWorkersInference == 0 {
		sched.MaxWorkersInference = -1
	}
	if sched.InferenceBatchCap == 0 {
		sched.InferenceBatchCap = 64
	}
	if sched.TaskTimeout == 0 {
		sched.TaskTimeout = time.Minute
	}
	retryLimit := sched.TaskRetryLimit
	if retryLimit == 0 {
		retryLimit = 1
	}

	log := newTestLogger()
	env := &testEnv{
		jobs:        newMemJobRepo(),
		tasks:       newMemTaskRepo(),
		projects:    newMemProjectRepo(),
		modelStates: newMemModelStateRepo(),
		reg:         registry.New(time.Minute),
		pub:         newMockPublisher(),
		merger:      &mockMerger{},
		gate:        NewProjectGate(),
	}
	env.dispatch = NewDispatchUseCase(env.jobs, env.tasks, env.reg, env.pub, sched, log)
	env.admission = NewAdmissionUseCase(env.jobs, env.tasks, env.projects, env.modelStates, env.dispatch, env.gate, globalCeiling, log)
	env.aggregator = NewAggregatorUseCase(env.modelStates, env.merger, nil, log)
	env.collector = NewCollectorUseCase(env.jobs, env.tasks, env.reg, env.aggregator, env.admission, env.gate, stubResultSource{}, log)
	env.supervisor = NewSupervisorUseCase(env.jobs, env.tasks, env.reg, env.dispatch, env.collector, env.admission, env.gate, sched.TaskTimeout, retryLimit, log)
	return env
}

func (e *testEnv) addWorker(id string, tags ...string) {
	if len(tags) == 0 {
		tags = []string{model.CapabilityTrain, model.CapabilityInference}
	}
	e.reg.Upsert(&model.Worker{ID: id, Tags: tags, LastHeartbeat: time.Now()})
}
