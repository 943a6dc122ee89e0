package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/amharic-code-craft/orchestrator/internal/model"
	ws "github.com/amharic-code-craft/orchestrator/internal/websocket"
)

const (
	TaskTypeGeneration         = "generation:process"
	TaskTypeConfirmationExpiry = "confirmation:expire"
)

const (
	jobRetention  = 24 * time.Hour
	ownerLeaseTTL = time.Hour
	jobTxRetries  = 3
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobTerminal       = errors.New("job already in terminal state")
	ErrOwnershipConflict = errors.New("job owned by another orchestrator")
)

// JobService owns the job state machine. It is the single writer of a job's
// terminal outcome; all mutations go through it.
type JobService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	quality     *QualityService
	hub         *ws.Hub
}

func NewJobService(redisClient *redis.Client, asynqClient *asynq.Client, quality *QualityService, hub *ws.Hub) *JobService {
	return &JobService{
		redis:       redisClient,
		asynqClient: asynqClient,
		quality:     quality,
		hub:         hub,
	}
}

// CreateJob persists a queued job and enqueues its generation task
func (s *JobService) CreateJob(ctx context.Context, userID string, req *model.JobCreateRequest) (*model.JobCreateResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	spec := model.JobSpec{
		ProjectID:          req.ProjectID,
		Request:            req.Request,
		ProposedChange:     req.ProposedChange,
		KnownErrorPatterns: req.KnownErrorPatterns,
	}

	phases := BuildPhases(&spec)
	eta := now.Add(time.Duration(len(phases)) * 15 * time.Second)

	job := &model.Job{
		ID:                    jobID,
		UserID:                userID,
		Status:                model.JobStatusQueued,
		Progress:              0,
		Phases:                phases,
		StreamUpdates:         []model.StreamUpdate{},
		EstimatedCompletionAt: &eta,
		Spec:                  spec,
		CreatedAt:             now,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newGenerationTask(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// External call failures are not retried internally; a new job is the retry
	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("generation"),
		asynq.MaxRetry(0),
		asynq.Retention(jobRetention),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobCreateResponse{
		JobID:                 jobID,
		Status:                model.JobStatusQueued,
		EstimatedCompletionAt: &eta,
		CreatedAt:             now,
	}, nil
}

// GetJob returns the externally visible state of a job
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:                 job.ID,
		Status:                job.Status,
		Progress:              job.Progress,
		CurrentStep:           job.CurrentStep,
		Phases:                job.Phases,
		StreamUpdates:         job.StreamUpdates,
		EstimatedCompletionAt: job.EstimatedCompletionAt,
		Error:                 job.Error,
		Warnings:              job.Warnings,
		CreatedAt:             job.CreatedAt,
		StartedAt:             job.StartedAt,
		CompletedAt:           job.CompletedAt,
	}, nil
}

// AcquireOwnership takes the single-orchestrator lease for a job. A second
// caller gets ErrOwnershipConflict while the lease is held.
func (s *JobService) AcquireOwnership(ctx context.Context, jobID, ownerID string) error {
	ok, err := s.redis.SetNX(ctx, ownerKey(jobID), ownerID, ownerLeaseTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire ownership: %w", err)
	}
	if !ok {
		current, _ := s.redis.Get(ctx, ownerKey(jobID)).Result()
		if current != ownerID {
			return ErrOwnershipConflict
		}
	}
	return nil
}

// ReleaseOwnership drops the lease if held by ownerID
func (s *JobService) ReleaseOwnership(ctx context.Context, jobID, ownerID string) {
	current, err := s.redis.Get(ctx, ownerKey(jobID)).Result()
	if err != nil || current != ownerID {
		return
	}
	s.redis.Del(ctx, ownerKey(jobID))
}

func (s *JobService) checkOwnership(ctx context.Context, jobID, ownerID string) error {
	current, err := s.redis.Get(ctx, ownerKey(jobID)).Result()
	if err == redis.Nil {
		return ErrOwnershipConflict
	}
	if err != nil {
		return fmt.Errorf("failed to read ownership: %w", err)
	}
	if current != ownerID {
		return ErrOwnershipConflict
	}
	return nil
}

// Advance moves a processing job forward: progress is monotonic, the stream
// update log is append-only, and the prior state is untouched on any error.
func (s *JobService) Advance(ctx context.Context, jobID, ownerID string, progress int, step, message string) error {
	if err := s.checkOwnership(ctx, jobID, ownerID); err != nil {
		return err
	}

	job, err := s.mutateJob(ctx, jobID, func(job *model.Job) error {
		if job.Status.IsTerminal() {
			return ErrJobTerminal
		}

		if job.Status == model.JobStatusQueued {
			job.Status = model.JobStatusProcessing
			now := time.Now()
			job.StartedAt = &now
		}

		if progress > job.Progress {
			job.Progress = progress
		}
		job.CurrentStep = step
		if message != "" {
			job.StreamUpdates = append(job.StreamUpdates, model.StreamUpdate{
				Message:   message,
				Timestamp: time.Now(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.hub.BroadcastJobUpdate(jobID, job.Status, job.Progress, step, message)
	return nil
}

// Complete finishes a job. If a quality gate policy is configured for the
// job's owner it is evaluated first: a blocking failure forces status=failed
// with the violation list as the error message, a non-blocking failure
// completes the job with the violations attached as warnings.
func (s *JobService) Complete(ctx context.Context, jobID, ownerID string, artifact *model.GenerationArtifact, metrics *model.QualityMetrics) error {
	if err := s.checkOwnership(ctx, jobID, ownerID); err != nil {
		return err
	}

	current, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return ErrJobTerminal
	}

	verdict, err := s.quality.EvaluateForScope(ctx, current.UserID, metrics)
	if err != nil {
		return fmt.Errorf("quality gate evaluation failed: %w", err)
	}

	if verdict.Blocked {
		reason := formatViolations(verdict.Violations)
		return s.failTransition(ctx, jobID, reason)
	}

	artifactBytes, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	_, err = s.mutateJob(ctx, jobID, func(job *model.Job) error {
		if job.Status.IsTerminal() {
			return ErrJobTerminal
		}

		if !verdict.Passed {
			for _, v := range verdict.Violations {
				job.Warnings = append(job.Warnings, v.Message)
			}
		}

		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.CurrentStep = ""
		job.Artifact = artifactBytes
		now := time.Now()
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	s.hub.BroadcastComplete(jobID, artifact)
	return nil
}

// Fail marks a job failed. Idempotent when the job is already failed.
func (s *JobService) Fail(ctx context.Context, jobID, reason string) error {
	err := s.failTransition(ctx, jobID, reason)
	if errors.Is(err, errAlreadyFailed) {
		return nil
	}
	return err
}

// errAlreadyFailed short-circuits an idempotent re-fail inside the transaction
var errAlreadyFailed = errors.New("job already failed")

func (s *JobService) failTransition(ctx context.Context, jobID, reason string) error {
	_, err := s.mutateJob(ctx, jobID, func(job *model.Job) error {
		if job.Status == model.JobStatusFailed {
			return errAlreadyFailed
		}
		if job.Status.IsTerminal() {
			return ErrJobTerminal
		}

		job.Status = model.JobStatusFailed
		job.Error = &reason
		now := time.Now()
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	s.hub.BroadcastError(jobID, "JOB_FAILED", reason)
	return nil
}

// Cancel cooperatively cancels a job. Running work observes the flip at its
// next checkpoint; nothing in flight is interrupted.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*model.JobCancelResponse, error) {
	job, err := s.mutateJob(ctx, jobID, func(job *model.Job) error {
		if job.Status.IsTerminal() {
			return ErrJobTerminal
		}

		job.Status = model.JobStatusCancelled
		now := time.Now()
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.hub.BroadcastJobUpdate(jobID, model.JobStatusCancelled, job.Progress, job.CurrentStep, "Job cancelled")

	return &model.JobCancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  model.JobStatusCancelled,
	}, nil
}

// IsCancelled reports whether the stored job has been flipped to cancelled.
// Workers call this at phase checkpoints.
func (s *JobService) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == model.JobStatusCancelled, nil
}

// LoadJob returns the full stored job record (worker use)
func (s *JobService) LoadJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.getJob(ctx, jobID)
}

// BuildPhases derives a job's ordered phase plan from its spec. Confirmation
// and fix phases only appear when the spec calls for them.
func BuildPhases(spec *model.JobSpec) []model.Phase {
	phases := []model.Phase{
		{Type: model.PhaseAnalyze, Label: "Analyzing request", Progress: 10},
		{Type: model.PhaseGenerate, Label: "Generating code", Progress: 40},
	}
	if spec.ProposedChange != nil {
		phases = append(phases, model.Phase{Type: model.PhaseConfirm, Label: "Awaiting change approval", Progress: 55})
	}
	if len(spec.KnownErrorPatterns) > 0 {
		phases = append(phases, model.Phase{Type: model.PhaseApplyFixes, Label: "Applying known-error fixes", Progress: 75})
	}
	phases = append(phases,
		model.Phase{Type: model.PhaseQualityReview, Label: "Reviewing quality", Progress: 90},
		model.Phase{Type: model.PhaseFinalize, Label: "Finalizing", Progress: 100},
	)
	return phases
}

func formatViolations(violations []model.QualityViolation) string {
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, v.Message)
	}
	return "Quality gate failed: " + strings.Join(msgs, "; ")
}

// Helper methods

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func ownerKey(jobID string) string {
	return fmt.Sprintf("job:owner:%s", jobID)
}

// mutateJob applies fn to the stored job inside a WATCH transaction. A
// concurrent write to the job invalidates the transaction instead of being
// overwritten, so a settled terminal status can never regress.
func (s *JobService) mutateJob(ctx context.Context, jobID string, fn func(*model.Job) error) (*model.Job, error) {
	key := jobKey(jobID)
	var job *model.Job

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		job = &model.Job{}
		if err := json.Unmarshal(data, job); err != nil {
			return err
		}

		if err := fn(job); err != nil {
			return err
		}

		payload, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, jobRetention)
			return nil
		})
		return err
	}

	for i := 0; i < jobTxRetries; i++ {
		err := s.redis.Watch(ctx, txn, key)
		if err == nil {
			return job, nil
		}
		if err != redis.TxFailedErr {
			return nil, err
		}
	}
	return nil, fmt.Errorf("job %s: too many concurrent writers", jobID)
}

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobRetention).Err()
}

func (s *JobService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func newGenerationTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(map[string]interface{}{"jobId": jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGeneration, data), nil
}
