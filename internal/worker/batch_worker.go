package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/lingosum/intake/internal/batch"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/service"
	"github.com/lingosum/intake/internal/utils"
)

// BatchRunner is the part of the batch service the worker drives
type BatchRunner interface {
	MarkRunning(ctx context.Context, jobID string) error
	RunJob(ctx context.Context, payload *model.BatchJobPayload) (*model.RenderModel, error)
	CompleteJob(ctx context.Context, jobID string, result *model.RenderModel) error
	FailJob(ctx context.Context, jobID, errMsg string, result *model.RenderModel) error
}

// BatchWorker processes queued batches. Status and result messages reach the
// session's WebSocket subscribers through the intake service's notifier.
type BatchWorker struct {
	runner BatchRunner
}

// NewBatchWorker creates a new batch worker
func NewBatchWorker(runner BatchRunner) *BatchWorker {
	return &BatchWorker{runner: runner}
}

// ProcessTask handles batch task processing. Batches are never retried.
func (w *BatchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := taskPayload.JobID
	utils.Zlog.Info("Starting batch job", zap.String("jobId", jobID))

	var payload model.BatchJobPayload
	if err := json.Unmarshal(taskPayload.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, "Invalid payload", nil)
		return fmt.Errorf("failed to unmarshal batch payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.runner.MarkRunning(ctx, jobID); err != nil {
		utils.Zlog.Warn("Failed to mark job running", zap.String("jobId", jobID), zap.Error(err))
	}

	result, err := w.runner.RunJob(ctx, &payload)
	if err != nil {
		w.failJob(ctx, jobID, err.Error(), result)
		utils.Zlog.Warn("Batch job failed",
			zap.String("jobId", jobID),
			zap.Bool("noSuccesses", errors.Is(err, batch.ErrAggregateFailure)),
			zap.Error(err))
		return fmt.Errorf("batch %s: %v: %w", jobID, err, asynq.SkipRetry)
	}

	if err := w.runner.CompleteJob(ctx, jobID, result); err != nil {
		w.failJob(ctx, jobID, "Failed to save result", result)
		return fmt.Errorf("failed to save result: %v: %w", err, asynq.SkipRetry)
	}

	utils.Zlog.Info("Batch job completed",
		zap.String("jobId", jobID),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	return nil
}

func (w *BatchWorker) failJob(ctx context.Context, jobID, errMsg string, result *model.RenderModel) {
	if err := w.runner.FailJob(ctx, jobID, errMsg, result); err != nil {
		utils.Zlog.Error("Failed to mark job as failed", zap.String("jobId", jobID), zap.Error(err))
	}
}

var _ BatchRunner = (*service.BatchService)(nil)
