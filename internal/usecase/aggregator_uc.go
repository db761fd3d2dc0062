package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/domain"
	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/domain/ports/adapter"
	"annotation-ml-controller/internal/domain/ports/repository"
	"annotation-ml-controller/internal/infra/metrics"
)

const swapLockTTL = 30 * time.Second

// Locker is the optional cross-process guard around the model-state swap;
// the redis SetNX locker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// AggregatorUseCase merges the partial model updates of one training job and
// commits the merged artifact as the project's new current model state.
type AggregatorUseCase struct {
	modelStates repository.ModelStateRepository
	merger      adapter.MergeRunner
	locker      Locker // may be nil for single-instance deployments
	log         *zerolog.Logger
}

func NewAggregatorUseCase(modelStates repository.ModelStateRepository, merger adapter.MergeRunner, locker Locker, logger *zerolog.Logger) *AggregatorUseCase {
	l := logger.With().Str("component", "aggregator").Logger()
	return &AggregatorUseCase{modelStates: modelStates, merger: merger, locker: locker, log: &l}
}

// Aggregate is idempotent per job: re-invocation for an already-aggregated
// job returns the existing model state, so duplicate completion notifications
// are harmless. On merge failure the project's current model state is left
// untouched. Caller must hold the project gate, which totally orders swaps
// per project.
func (uc *AggregatorUseCase) Aggregate(ctx context.Context, projectID, jobID string, partialRefs []string) (*model.ModelState, error) {
	if existing, err := uc.modelStates.FindByJob(ctx, nil, jobID); err == nil {
		uc.log.Debug().Str("job_id", jobID).Int64("version", existing.Version).
			Msg("job already aggregated, returning existing version")
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if len(partialRefs) == 0 {
		return nil, fmt.Errorf("%w: no partial results", domain.ErrAggregationFailed)
	}

	if uc.locker != nil {
		token, err := uc.locker.TryLock(ctx, "modelswap:"+projectID, swapLockTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAggregationFailed, err)
		}
		defer func() { _ = uc.locker.Unlock(ctx, "modelswap:"+projectID, token) }()
	}

	mergedRef, err := uc.merger.Merge(ctx, projectID, jobID, partialRefs)
	if err != nil {
		metrics.IncAggregation("failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrAggregationFailed, err)
	}

	ms, err := uc.modelStates.Commit(ctx, projectID, jobID, mergedRef)
	if err != nil {
		metrics.IncAggregation("failed")
		return nil, fmt.Errorf("%w: commit: %v", domain.ErrAggregationFailed, err)
	}
	metrics.IncAggregation("succeeded")
	uc.log.Info().Str("project_id", projectID).Str("job_id", jobID).
		Int64("version", ms.Version).Int("partials", len(partialRefs)).
		Msg("model state committed")
	return ms, nil
}
