package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/amharic-code-craft/orchestrator/internal/model"
	ws "github.com/amharic-code-craft/orchestrator/internal/websocket"
)

// newRedisJobService wires a JobService against the local test Redis. The
// asynq client is nil: none of the mutation paths under test enqueue tasks.
func newRedisJobService(t *testing.T) *JobService {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	t.Cleanup(func() { redisClient.Close() })

	hub := ws.NewHub()
	go hub.Run()

	return NewJobService(redisClient, nil, NewQualityService(redisClient), hub)
}

func seedJob(t *testing.T, s *JobService, status model.JobStatus) *model.Job {
	t.Helper()

	job := &model.Job{
		ID:            uuid.New().String(),
		UserID:        uuid.New().String(),
		Status:        status,
		Progress:      40,
		Phases:        BuildPhases(&model.JobSpec{}),
		StreamUpdates: []model.StreamUpdate{},
		Spec:          model.JobSpec{ProjectID: "proj-1", Request: "add a widget"},
		CreatedAt:     time.Now(),
	}
	if err := s.saveJob(context.Background(), job); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	return job
}

func storedStatus(t *testing.T, s *JobService, jobID string) model.JobStatus {
	t.Helper()
	job, err := s.getJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("failed to read job back: %v", err)
	}
	return job.Status
}

func TestCancel_CompletedJobIsImmutable(t *testing.T) {
	s := newRedisJobService(t)
	job := seedJob(t, s, model.JobStatusCompleted)

	_, err := s.Cancel(context.Background(), job.ID)
	if !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
	if got := storedStatus(t, s, job.ID); got != model.JobStatusCompleted {
		t.Errorf("completed job was overwritten to %s", got)
	}
}

func TestCancel_NotFound(t *testing.T) {
	s := newRedisJobService(t)

	_, err := s.Cancel(context.Background(), uuid.New().String())
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

// A cancel racing a complete must settle on exactly one terminal status; the
// loser observes the terminal state instead of overwriting it.
func TestCancelCompleteRace_SingleWinner(t *testing.T) {
	s := newRedisJobService(t)
	ctx := context.Background()

	job := seedJob(t, s, model.JobStatusProcessing)
	ownerID := uuid.New().String()
	if err := s.AcquireOwnership(ctx, job.ID, ownerID); err != nil {
		t.Fatalf("failed to acquire ownership: %v", err)
	}

	artifact := &model.GenerationArtifact{ProjectID: "proj-1", Code: "code", GeneratedAt: time.Now()}
	metrics := &model.QualityMetrics{CodeQualityScore: 90, TestsWritten: true, TestCoverage: 80}

	var wg sync.WaitGroup
	var cancelErr, completeErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cancelErr = s.Cancel(ctx, job.ID)
	}()
	go func() {
		defer wg.Done()
		completeErr = s.Complete(ctx, job.ID, ownerID, artifact, metrics)
	}()
	wg.Wait()

	cancelWon := cancelErr == nil
	completeWon := completeErr == nil
	if cancelWon == completeWon {
		t.Fatalf("expected exactly one winner, cancel=%v complete=%v", cancelErr, completeErr)
	}

	final := storedStatus(t, s, job.ID)
	if cancelWon && final != model.JobStatusCancelled {
		t.Errorf("cancel won but stored status is %s", final)
	}
	if completeWon && final != model.JobStatusCompleted {
		t.Errorf("complete won but stored status is %s", final)
	}

	// The settled status stays put
	if _, err := s.Cancel(ctx, job.ID); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal after settlement, got %v", err)
	}
	if got := storedStatus(t, s, job.ID); got != final {
		t.Errorf("terminal status regressed from %s to %s", final, got)
	}
}

func TestAcquireOwnership_SecondOwnerConflicts(t *testing.T) {
	s := newRedisJobService(t)
	ctx := context.Background()

	job := seedJob(t, s, model.JobStatusQueued)
	owner1 := uuid.New().String()
	owner2 := uuid.New().String()

	if err := s.AcquireOwnership(ctx, job.ID, owner1); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := s.AcquireOwnership(ctx, job.ID, owner2); !errors.Is(err, ErrOwnershipConflict) {
		t.Fatalf("expected ErrOwnershipConflict for second owner, got %v", err)
	}

	// Re-acquiring the held lease is allowed
	if err := s.AcquireOwnership(ctx, job.ID, owner1); err != nil {
		t.Errorf("holder re-acquire failed: %v", err)
	}

	// Mutations under the wrong owner are refused
	err := s.Advance(ctx, job.ID, owner2, 10, "analyze", "should not land")
	if !errors.Is(err, ErrOwnershipConflict) {
		t.Fatalf("expected ErrOwnershipConflict on advance, got %v", err)
	}
	if got := storedStatus(t, s, job.ID); got != model.JobStatusQueued {
		t.Errorf("conflicting advance mutated the job to %s", got)
	}

	// Releasing frees the lease for the next owner
	s.ReleaseOwnership(ctx, job.ID, owner1)
	if err := s.AcquireOwnership(ctx, job.ID, owner2); err != nil {
		t.Errorf("acquire after release failed: %v", err)
	}
}

func TestAdvance_ProgressAndStream(t *testing.T) {
	s := newRedisJobService(t)
	ctx := context.Background()

	job := seedJob(t, s, model.JobStatusQueued)
	ownerID := uuid.New().String()
	if err := s.AcquireOwnership(ctx, job.ID, ownerID); err != nil {
		t.Fatalf("failed to acquire ownership: %v", err)
	}

	if err := s.Advance(ctx, job.ID, ownerID, 60, "generate", "Generating code"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	stored, err := s.getJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to read job back: %v", err)
	}
	if stored.Status != model.JobStatusProcessing {
		t.Errorf("expected processing, got %s", stored.Status)
	}
	if stored.Progress != 60 {
		t.Errorf("expected progress 60, got %d", stored.Progress)
	}
	if stored.StartedAt == nil {
		t.Error("expected startedAt to be set on first advance")
	}
	if len(stored.StreamUpdates) != 1 {
		t.Fatalf("expected one stream update, got %d", len(stored.StreamUpdates))
	}

	// Progress never moves backwards
	if err := s.Advance(ctx, job.ID, ownerID, 20, "analyze", "late message"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	stored, _ = s.getJob(ctx, job.ID)
	if stored.Progress != 60 {
		t.Errorf("progress regressed to %d", stored.Progress)
	}
	if len(stored.StreamUpdates) != 2 {
		t.Errorf("expected stream log to keep appending, got %d entries", len(stored.StreamUpdates))
	}
}

func TestFail_IdempotentOnFailedOnly(t *testing.T) {
	s := newRedisJobService(t)
	ctx := context.Background()

	job := seedJob(t, s, model.JobStatusProcessing)
	if err := s.Fail(ctx, job.ID, "generation blew up"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if err := s.Fail(ctx, job.ID, "second reason"); err != nil {
		t.Fatalf("expected idempotent re-fail, got %v", err)
	}

	stored, err := s.getJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to read job back: %v", err)
	}
	if stored.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}
	if stored.Error == nil || *stored.Error != "generation blew up" {
		t.Errorf("expected the first reason to stick, got %v", stored.Error)
	}

	// Other terminal states are not failable
	cancelled := seedJob(t, s, model.JobStatusCancelled)
	if err := s.Fail(ctx, cancelled.ID, "too late"); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal for cancelled job, got %v", err)
	}
}
