package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/lingosum/intake/internal/batch"
	"github.com/lingosum/intake/internal/model"
)

const (
	TaskTypeBatch = "batch:process"

	jobTTL = 24 * time.Hour
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
)

// BatchService queues batches for the worker and keeps their job records
type BatchService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	intake      *IntakeService
}

func NewBatchService(redisClient *redis.Client, asynqClient *asynq.Client, intake *IntakeService) *BatchService {
	return &BatchService{
		redis:       redisClient,
		asynqClient: asynqClient,
		intake:      intake,
	}
}

// StartBatch queues the session's pending items as one asynchronous batch
func (s *BatchService) StartBatch(ctx context.Context, sessionID string, opts BatchOptions) (*model.StartBatchResponse, error) {
	pending, err := s.intake.PendingCount(sessionID)
	if err != nil {
		return nil, err
	}
	if pending == 0 {
		return nil, batch.ErrEmptyBatch
	}
	if err := s.intake.ReserveBatch(sessionID); err != nil {
		return nil, err
	}
	queued := false
	defer func() {
		if !queued {
			s.intake.CancelReservation(sessionID)
		}
	}()

	opts = s.intake.ResolveOptions(opts)
	jobID := uuid.New().String()
	now := time.Now()

	job := &model.BatchJob{
		ID:        jobID,
		SessionID: sessionID,
		Status:    model.JobStatusQueued,
		Mode:      opts.Mode,
		Total:     pending,
		CreatedAt: now,
	}

	payload := &model.BatchJobPayload{
		SessionID:          sessionID,
		TargetLanguage:     opts.TargetLanguage,
		Bounds:             opts.Bounds,
		PreserveFormatting: opts.PreserveFormatting,
		Mode:               opts.Mode,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newBatchTask(jobID, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// A batch is never retried; failed items are re-triggered by the caller.
	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("batch"),
		asynq.MaxRetry(0),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	queued = true

	return &model.StartBatchResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		Total:     pending,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the job record of a queued batch
func (s *BatchService) GetStatus(ctx context.Context, jobID string) (*model.BatchJob, error) {
	return s.getJob(ctx, jobID)
}

// GetResult returns the render model of a settled batch. A batch that failed
// as a whole still has a result listing every failure.
func (s *BatchService) GetResult(ctx context.Context, jobID string) (*model.RenderModel, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusSucceeded && job.Status != model.JobStatusFailed {
		return nil, ErrJobNotCompleted
	}
	if len(job.Result) == 0 {
		return nil, ErrJobNotCompleted
	}

	var result model.RenderModel
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &result, nil
}

// MarkRunning records that the worker picked the job up
func (s *BatchService) MarkRunning(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now

	return s.saveJob(ctx, job)
}

// CompleteJob stores the render model of a batch with at least one success
func (s *BatchService) CompleteJob(ctx context.Context, jobID string, result *model.RenderModel) error {
	return s.settleJob(ctx, jobID, model.JobStatusSucceeded, result, "")
}

// FailJob marks a batch as failed, keeping its render model when there is one
func (s *BatchService) FailJob(ctx context.Context, jobID, errMsg string, result *model.RenderModel) error {
	return s.settleJob(ctx, jobID, model.JobStatusFailed, result, errMsg)
}

func (s *BatchService) settleJob(ctx context.Context, jobID string, status model.JobStatus, result *model.RenderModel, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	if errMsg != "" {
		job.Error = &errMsg
	}

	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		job.Result = data
		job.Processed = result.Processed
		job.Failed = result.Failed
		job.Total = result.Total
	}

	return s.saveJob(ctx, job)
}

// RunJob runs the queued batch synchronously; it is the worker's entry point
func (s *BatchService) RunJob(ctx context.Context, payload *model.BatchJobPayload) (*model.RenderModel, error) {
	return s.intake.RunQueuedBatch(ctx, payload.SessionID, BatchOptions{
		TargetLanguage:     payload.TargetLanguage,
		Bounds:             payload.Bounds,
		PreserveFormatting: payload.PreserveFormatting,
		Mode:               payload.Mode,
	})
}

// storedJob carries the result bytes that BatchJob hides from API responses
type storedJob struct {
	*model.BatchJob
	Result json.RawMessage `json:"result,omitempty"`
}

func (s *BatchService) saveJob(ctx context.Context, job *model.BatchJob) error {
	data, err := json.Marshal(storedJob{BatchJob: job, Result: job.Result})
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("batch:%s", job.ID), data, jobTTL).Err()
}

func (s *BatchService) getJob(ctx context.Context, jobID string) (*model.BatchJob, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("batch:%s", jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	stored := storedJob{BatchJob: &model.BatchJob{}}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	stored.BatchJob.Result = stored.Result

	return stored.BatchJob, nil
}

func newBatchTask(jobID string, payload []byte) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": json.RawMessage(payload),
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBatch, data), nil
}
