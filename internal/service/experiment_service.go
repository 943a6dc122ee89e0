package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/amharic-code-craft/orchestrator/internal/model"
)

const experimentRetention = 30 * 24 * time.Hour

var (
	ErrExperimentNotFound  = errors.New("experiment not found")
	ErrNoExperiment        = errors.New("no experiment for error pattern")
	ErrExperimentConcluded = errors.New("experiment already concluded")
)

// RandSource supplies the coin flip for running experiments. Injectable so
// tests can pin the routing decision.
type RandSource interface {
	Intn(n int) int
}

type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

// ExperimentService routes recurring error patterns between two competing fix
// variants and tracks their outcomes. Trial counters are stored as Redis hash
// fields and mutated only with HIncrBy, so concurrent recordings never lose
// updates.
type ExperimentService struct {
	redis *redis.Client
	rng   RandSource
}

func NewExperimentService(redisClient *redis.Client, rng RandSource) *ExperimentService {
	if rng == nil {
		rng = globalRand{}
	}
	return &ExperimentService{
		redis: redisClient,
		rng:   rng,
	}
}

// Create starts a running experiment with zero counts for an error pattern.
// The pattern index moves to the new experiment, superseding any concluded one.
func (s *ExperimentService) Create(ctx context.Context, req *model.ExperimentCreateRequest) (*model.ExperimentCreateResponse, error) {
	exp := &model.FixExperiment{
		ID:             uuid.New().String(),
		ErrorPatternID: req.ErrorPatternID,
		VariantA:       req.VariantA,
		VariantB:       req.VariantB,
		Status:         model.ExperimentStatusRunning,
		CreatedAt:      time.Now(),
	}

	key := experimentKey(exp.ID)
	fields := map[string]interface{}{
		"id":               exp.ID,
		"error_pattern_id": exp.ErrorPatternID,
		"variant_a":        exp.VariantA,
		"variant_b":        exp.VariantB,
		"status":           string(exp.Status),
		"winning_variant":  "",
		"created_at":       exp.CreatedAt.Format(time.RFC3339Nano),
		"trials_a":         0,
		"successes_a":      0,
		"trials_b":         0,
		"successes_b":      0,
	}
	if err := s.redis.HSet(ctx, key, fields).Err(); err != nil {
		return nil, fmt.Errorf("failed to save experiment: %w", err)
	}
	s.redis.Expire(ctx, key, experimentRetention)

	if err := s.redis.Set(ctx, patternKey(exp.ErrorPatternID), exp.ID, experimentRetention).Err(); err != nil {
		return nil, fmt.Errorf("failed to index experiment: %w", err)
	}

	return &model.ExperimentCreateResponse{
		ExperimentID: exp.ID,
		Status:       exp.Status,
	}, nil
}

// GetRouting answers which fix variant to use for an error pattern. A
// concluded experiment routes deterministically to the winner; a running one
// flips an unbiased coin; with no experiment the router refuses rather than
// fabricating one.
func (s *ExperimentService) GetRouting(ctx context.Context, errorPatternID string) (*model.FixRouting, error) {
	expID, err := s.redis.Get(ctx, patternKey(errorPatternID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoExperiment
		}
		return nil, err
	}

	exp, err := s.get(ctx, expID)
	if err != nil {
		if errors.Is(err, ErrExperimentNotFound) {
			return nil, ErrNoExperiment
		}
		return nil, err
	}

	if exp.Status == model.ExperimentStatusCompleted && exp.WinningVariant != "" {
		return &model.FixRouting{
			Variant: exp.WinningVariant,
			Fix:     s.variantFix(exp, exp.WinningVariant),
		}, nil
	}

	if exp.Status != model.ExperimentStatusRunning {
		return nil, ErrNoExperiment
	}

	variant := model.VariantA
	if s.rng.Intn(2) == 1 {
		variant = model.VariantB
	}
	return &model.FixRouting{
		Variant: variant,
		Fix:     s.variantFix(exp, variant),
	}, nil
}

// RecordResult appends one trial and bumps the variant's counters atomically
func (s *ExperimentService) RecordResult(ctx context.Context, experimentID string, req *model.ExperimentResultRequest) error {
	if _, err := s.get(ctx, experimentID); err != nil {
		return err
	}

	result := model.ExperimentResult{
		ExperimentID:    experimentID,
		VariantUsed:     req.Variant,
		Success:         req.Success != nil && *req.Success,
		ExecutionTimeMs: req.ExecutionTimeMs,
		Error:           req.Error,
		RecordedAt:      time.Now(),
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := s.redis.RPush(ctx, resultsKey(experimentID), data).Err(); err != nil {
		return fmt.Errorf("failed to append result: %w", err)
	}
	s.redis.Expire(ctx, resultsKey(experimentID), experimentRetention)

	trialsField, successesField := "trials_a", "successes_a"
	if req.Variant == model.VariantB {
		trialsField, successesField = "trials_b", "successes_b"
	}

	key := experimentKey(experimentID)
	if err := s.redis.HIncrBy(ctx, key, trialsField, 1).Err(); err != nil {
		return fmt.Errorf("failed to increment trials: %w", err)
	}
	if result.Success {
		if err := s.redis.HIncrBy(ctx, key, successesField, 1).Err(); err != nil {
			return fmt.Errorf("failed to increment successes: %w", err)
		}
	}

	return nil
}

// Conclude sets the winning variant. The router never concludes on its own;
// this is the entry point for the external decision process.
func (s *ExperimentService) Conclude(ctx context.Context, experimentID string, winner model.Variant) error {
	exp, err := s.get(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status != model.ExperimentStatusRunning {
		return ErrExperimentConcluded
	}

	now := time.Now()
	return s.redis.HSet(ctx, experimentKey(experimentID), map[string]interface{}{
		"status":          string(model.ExperimentStatusCompleted),
		"winning_variant": string(winner),
		"concluded_at":    now.Format(time.RFC3339Nano),
	}).Err()
}

// Cancel abandons a running experiment without picking a winner
func (s *ExperimentService) Cancel(ctx context.Context, experimentID string) error {
	exp, err := s.get(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status != model.ExperimentStatusRunning {
		return ErrExperimentConcluded
	}

	now := time.Now()
	return s.redis.HSet(ctx, experimentKey(experimentID), map[string]interface{}{
		"status":       string(model.ExperimentStatusCancelled),
		"concluded_at": now.Format(time.RFC3339Nano),
	}).Err()
}

// GetStats returns aggregated counts and rates for the decision process
func (s *ExperimentService) GetStats(ctx context.Context, experimentID string) (*model.ExperimentStatsResponse, error) {
	exp, err := s.get(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	return &model.ExperimentStatsResponse{
		ExperimentID:   exp.ID,
		ErrorPatternID: exp.ErrorPatternID,
		Status:         exp.Status,
		TrialsA:        exp.TrialsA,
		SuccessesA:     exp.SuccessesA,
		SuccessRateA:   exp.SuccessRate(model.VariantA),
		TrialsB:        exp.TrialsB,
		SuccessesB:     exp.SuccessesB,
		SuccessRateB:   exp.SuccessRate(model.VariantB),
		WinningVariant: exp.WinningVariant,
		CreatedAt:      exp.CreatedAt,
		ConcludedAt:    exp.ConcludedAt,
	}, nil
}

// StatsForPattern returns the stats of the pattern's current experiment
func (s *ExperimentService) StatsForPattern(ctx context.Context, errorPatternID string) (*model.ExperimentStatsResponse, error) {
	expID, err := s.redis.Get(ctx, patternKey(errorPatternID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoExperiment
		}
		return nil, err
	}
	return s.GetStats(ctx, expID)
}

func (s *ExperimentService) variantFix(exp *model.FixExperiment, v model.Variant) string {
	if v == model.VariantB {
		return exp.VariantB
	}
	return exp.VariantA
}

// Helper methods

func experimentKey(id string) string {
	return fmt.Sprintf("experiment:%s", id)
}

func patternKey(errorPatternID string) string {
	return fmt.Sprintf("experiment:pattern:%s", errorPatternID)
}

func resultsKey(id string) string {
	return fmt.Sprintf("experiment:results:%s", id)
}

func (s *ExperimentService) get(ctx context.Context, id string) (*model.FixExperiment, error) {
	fields, err := s.redis.HGetAll(ctx, experimentKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrExperimentNotFound
	}
	return experimentFromHash(fields), nil
}

func experimentFromHash(fields map[string]string) *model.FixExperiment {
	exp := &model.FixExperiment{
		ID:             fields["id"],
		ErrorPatternID: fields["error_pattern_id"],
		VariantA:       fields["variant_a"],
		VariantB:       fields["variant_b"],
		Status:         model.ExperimentStatus(fields["status"]),
		WinningVariant: model.Variant(fields["winning_variant"]),
	}
	exp.TrialsA = parseCount(fields["trials_a"])
	exp.SuccessesA = parseCount(fields["successes_a"])
	exp.TrialsB = parseCount(fields["trials_b"])
	exp.SuccessesB = parseCount(fields["successes_b"])
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		exp.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["concluded_at"]); err == nil {
		exp.ConcludedAt = &t
	}
	return exp
}

func parseCount(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}
