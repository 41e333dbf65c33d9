package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/core/ports"
)

// ScheduleIngestionUseCase records a NotStarted run and hands it to a worker
// through the ingestion queue.
type ScheduleIngestionUseCase struct {
	runs        ports.IngestionRunStore
	queue       ports.IngestionQueue
	defaultGlob string
}

func NewScheduleIngestionUseCase(runs ports.IngestionRunStore, queue ports.IngestionQueue, defaultGlob string) *ScheduleIngestionUseCase {
	return &ScheduleIngestionUseCase{
		runs:        runs,
		queue:       queue,
		defaultGlob: defaultGlob,
	}
}

func (uc *ScheduleIngestionUseCase) Schedule(ctx context.Context, dir, glob string) (*domain.IngestionRun, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "schedule ingestion", errors.New("dir is required"))
	}
	glob = strings.TrimSpace(glob)
	if glob == "" {
		glob = uc.defaultGlob
	}

	now := time.Now().UTC()
	run := &domain.IngestionRun{
		ID:        uuid.NewString(),
		Dir:       dir,
		Glob:      glob,
		State:     domain.StateNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create ingestion run: %w", err)
	}

	req := domain.IngestionRequest{RunID: run.ID, Dir: dir, Glob: glob}
	if err := uc.queue.PublishIngestionRequested(ctx, req); err != nil {
		run.State = domain.StateFailed
		run.FailedStage = domain.StateNotStarted
		run.Error = err.Error()
		run.UpdatedAt = time.Now().UTC()
		_ = uc.runs.Update(context.WithoutCancel(ctx), run)
		return nil, fmt.Errorf("publish ingestion request: %w", err)
	}
	return run, nil
}

func (uc *ScheduleIngestionUseCase) GetByID(ctx context.Context, id string) (*domain.IngestionRun, error) {
	run, err := uc.runs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get ingestion run: %w", err)
	}
	return run, nil
}
