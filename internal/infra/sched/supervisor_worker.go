package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/usecase"
)

// SupervisorWorker periodically sweeps for timed-out tasks via the use case.
type SupervisorWorker struct {
	interval   time.Duration
	supervisor *usecase.SupervisorUseCase
	log        *zerolog.Logger
}

func NewSupervisorWorker(interval time.Duration, supervisor *usecase.SupervisorUseCase, logger *zerolog.Logger) *SupervisorWorker {
	compLog := logger.With().Str("component", "SupervisorWorker").Logger()
	return &SupervisorWorker{
		interval:   interval,
		supervisor: supervisor,
		log:        &compLog,
	}
}

func (w *SupervisorWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting supervisor worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping supervisor worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.supervisor.Sweep(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("timeout sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("overdue tasks handled")
			}
		}
	}
}
