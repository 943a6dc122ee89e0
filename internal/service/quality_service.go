package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amharic-code-craft/orchestrator/internal/model"
)

const policyRetention = 90 * 24 * time.Hour

var ErrPolicyNotFound = errors.New("quality gate policy not found")

// QualityService evaluates finished artifacts against per-scope gate policies
type QualityService struct {
	redis *redis.Client
}

func NewQualityService(redisClient *redis.Client) *QualityService {
	return &QualityService{redis: redisClient}
}

// EvaluatePolicy checks metrics against a policy. All four criteria are
// evaluated unconditionally; one violation is returned per failing criterion.
func EvaluatePolicy(policy *model.QualityGatePolicy, metrics *model.QualityMetrics) *model.QualityVerdict {
	if policy == nil {
		// No policy configured: default-allow
		return &model.QualityVerdict{Passed: true, Blocked: false, Violations: []model.QualityViolation{}}
	}

	violations := []model.QualityViolation{}

	if metrics.CodeQualityScore < policy.MinCodeQualityScore {
		violations = append(violations, model.QualityViolation{
			Type: model.ViolationCodeQuality,
			Message: fmt.Sprintf("Code quality score %d is below the minimum of %d",
				metrics.CodeQualityScore, policy.MinCodeQualityScore),
			Current:  metrics.CodeQualityScore,
			Required: policy.MinCodeQualityScore,
		})
	}

	if metrics.SecurityIssues > policy.MaxSecurityIssues {
		violations = append(violations, model.QualityViolation{
			Type: model.ViolationSecurity,
			Message: fmt.Sprintf("%d security issues exceed the maximum of %d",
				metrics.SecurityIssues, policy.MaxSecurityIssues),
			Current:  metrics.SecurityIssues,
			Required: policy.MaxSecurityIssues,
		})
	}

	if metrics.CriticalIssues > policy.MaxCriticalIssues {
		violations = append(violations, model.QualityViolation{
			Type: model.ViolationCriticalIssues,
			Message: fmt.Sprintf("%d critical issues exceed the maximum of %d",
				metrics.CriticalIssues, policy.MaxCriticalIssues),
			Current:  metrics.CriticalIssues,
			Required: policy.MaxCriticalIssues,
		})
	}

	if policy.RequireTests {
		if !metrics.TestsWritten {
			violations = append(violations, model.QualityViolation{
				Type:     model.ViolationTestCoverage,
				Message:  "Tests are required but the artifact contains none",
				Current:  0,
				Required: policy.MinTestCoverage,
			})
		} else if metrics.TestCoverage < policy.MinTestCoverage {
			violations = append(violations, model.QualityViolation{
				Type: model.ViolationTestCoverage,
				Message: fmt.Sprintf("Test coverage %d%% is below the minimum of %d%%",
					metrics.TestCoverage, policy.MinTestCoverage),
				Current:  metrics.TestCoverage,
				Required: policy.MinTestCoverage,
			})
		}
	}

	passed := len(violations) == 0
	return &model.QualityVerdict{
		Passed:     passed,
		Blocked:    !passed && policy.BlockOnFail,
		Violations: violations,
	}
}

// EvaluateForScope evaluates metrics against the scope's stored policy.
// Scopes without a policy default-allow.
func (s *QualityService) EvaluateForScope(ctx context.Context, scope string, metrics *model.QualityMetrics) (*model.QualityVerdict, error) {
	policy, err := s.GetPolicy(ctx, scope)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return EvaluatePolicy(nil, metrics), nil
		}
		return nil, err
	}
	return EvaluatePolicy(policy, metrics), nil
}

// SetPolicy stores the gate policy for a scope
func (s *QualityService) SetPolicy(ctx context.Context, scope string, policy *model.QualityGatePolicy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, policyKey(scope), data, policyRetention).Err()
}

// GetPolicy returns the stored gate policy for a scope
func (s *QualityService) GetPolicy(ctx context.Context, scope string) (*model.QualityGatePolicy, error) {
	data, err := s.redis.Get(ctx, policyKey(scope)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}

	var policy model.QualityGatePolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func policyKey(scope string) string {
	return fmt.Sprintf("qualitypolicy:%s", scope)
}
