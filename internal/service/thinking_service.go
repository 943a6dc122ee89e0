package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amharic-code-craft/orchestrator/internal/model"
	ws "github.com/amharic-code-craft/orchestrator/internal/websocket"
)

const thinkingRetention = 24 * time.Hour

// ThinkingService records per-scope sub-task telemetry. Writes are best
// effort from the orchestrator's point of view: a failed emit is logged by
// the caller and never blocks job progress.
type ThinkingService struct {
	redis *redis.Client
	hub   *ws.Hub
}

func NewThinkingService(redisClient *redis.Client, hub *ws.Hub) *ThinkingService {
	return &ThinkingService{
		redis: redisClient,
		hub:   hub,
	}
}

// Emit records a step for a scope. A non-complete step with the same
// operation is replaced in place; otherwise the step appends. The
// execution_complete operation settles every remaining non-complete step.
func (s *ThinkingService) Emit(ctx context.Context, scopeID string, req *model.ThinkingEmitRequest) error {
	steps, err := s.load(ctx, scopeID)
	if err != nil {
		return err
	}

	step := model.ThinkingStep{
		Operation:  req.Operation,
		Detail:     req.Detail,
		Status:     req.Status,
		DurationMs: req.DurationMs,
		Timestamp:  time.Now(),
	}

	steps = UpsertStep(steps, step)

	if step.Operation == model.OperationExecutionComplete {
		for i := range steps {
			if steps[i].Status != model.ThinkingStatusComplete {
				steps[i].Status = model.ThinkingStatusComplete
			}
		}
	}

	if err := s.save(ctx, scopeID, steps); err != nil {
		return err
	}

	s.hub.BroadcastThinkingStep(scopeID, step, anyActive(steps))
	return nil
}

// Get returns a scope's steps and whether any is still active
func (s *ThinkingService) Get(ctx context.Context, scopeID string) (*model.ThinkingStepsResponse, error) {
	steps, err := s.load(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	return &model.ThinkingStepsResponse{
		ScopeID:    scopeID,
		Steps:      steps,
		IsThinking: anyActive(steps),
	}, nil
}

// Clear removes a scope's steps. The only operation that discards history.
func (s *ThinkingService) Clear(ctx context.Context, scopeID string) error {
	return s.redis.Del(ctx, thinkingKey(scopeID)).Err()
}

// UpsertStep applies the tracker's in-place update rule: the most recent
// non-complete step for the same operation is replaced at its stream
// position; absent one, the step appends.
func UpsertStep(steps []model.ThinkingStep, step model.ThinkingStep) []model.ThinkingStep {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Operation == step.Operation && steps[i].Status != model.ThinkingStatusComplete {
			steps[i] = step
			return steps
		}
	}
	return append(steps, step)
}

func anyActive(steps []model.ThinkingStep) bool {
	for _, st := range steps {
		if st.Status == model.ThinkingStatusActive {
			return true
		}
	}
	return false
}

// Helper methods

func thinkingKey(scopeID string) string {
	return fmt.Sprintf("thinking:%s", scopeID)
}

func (s *ThinkingService) load(ctx context.Context, scopeID string) ([]model.ThinkingStep, error) {
	data, err := s.redis.Get(ctx, thinkingKey(scopeID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return []model.ThinkingStep{}, nil
		}
		return nil, err
	}

	var steps []model.ThinkingStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func (s *ThinkingService) save(ctx context.Context, scopeID string, steps []model.ThinkingStep) error {
	data, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, thinkingKey(scopeID), data, thinkingRetention).Err()
}
