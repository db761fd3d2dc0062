package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/domain/ports/broker"
	"annotation-ml-controller/internal/infra/registry"
	"annotation-ml-controller/internal/usecase"
)

// RegistryWorker keeps the in-memory worker registry in sync with the broker's
// worker announcements and prunes workers whose heartbeat went silent. Lost
// workers are reported to the supervisor so their in-flight tasks get
// reassigned.
type RegistryWorker struct {
	feed          broker.WorkerFeed
	registry      *registry.Registry
	supervisor    *usecase.SupervisorUseCase
	pruneInterval time.Duration
	log           *zerolog.Logger
}

func NewRegistryWorker(feed broker.WorkerFeed, reg *registry.Registry, supervisor *usecase.SupervisorUseCase, pruneInterval time.Duration, logger *zerolog.Logger) *RegistryWorker {
	compLog := logger.With().Str("component", "RegistryWorker").Logger()
	return &RegistryWorker{
		feed:          feed,
		registry:      reg,
		supervisor:    supervisor,
		pruneInterval: pruneInterval,
		log:           &compLog,
	}
}

func (w *RegistryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting registry worker")
	events, err := w.feed.Events(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping registry worker")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				w.log.Warn().Msg("worker feed closed")
				return nil
			}
			w.handleEvent(ctx, ev)
		case <-ticker.C:
			for _, id := range w.registry.PruneExpired() {
				w.log.Warn().Str("worker_id", id).Msg("worker heartbeat expired")
				if err := w.supervisor.OnWorkerLost(ctx, id); err != nil {
					w.log.Error().Err(err).Str("worker_id", id).Msg("reassign after expiry failed")
				}
			}
		}
	}
}

func (w *RegistryWorker) handleEvent(ctx context.Context, ev broker.WorkerEvent) {
	if ev.WorkerID == "" {
		return
	}
	if ev.Gone {
		w.registry.Remove(ev.WorkerID)
		w.log.Info().Str("worker_id", ev.WorkerID).Msg("worker deregistered")
		if err := w.supervisor.OnWorkerLost(ctx, ev.WorkerID); err != nil {
			w.log.Error().Err(err).Str("worker_id", ev.WorkerID).Msg("reassign after deregister failed")
		}
		return
	}
	if len(ev.Tags) == 0 {
		// Heartbeat-only announcement; the registration's tags stay in effect.
		w.registry.Heartbeat(ev.WorkerID)
		return
	}
	w.registry.Upsert(&model.Worker{
		ID:            ev.WorkerID,
		Tags:          ev.Tags,
		LastHeartbeat: time.Now(),
	})
}
