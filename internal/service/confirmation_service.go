package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/amharic-code-craft/orchestrator/internal/model"
	ws "github.com/amharic-code-craft/orchestrator/internal/websocket"
)

const (
	confirmationRetention = 24 * time.Hour
	previewBodyLimit      = 500
)

var (
	ErrConfirmationNotFound = errors.New("confirmation not found")
	ErrAlreadyResolved      = errors.New("confirmation already resolved")
	ErrConfirmationExpired  = errors.New("confirmation expired")
)

// ConfirmationService classifies proposed changes and manages the time-boxed
// approval requests gating the risky ones.
type ConfirmationService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	hub         *ws.Hub
	ttl         time.Duration
}

func NewConfirmationService(redisClient *redis.Client, asynqClient *asynq.Client, hub *ws.Hub, ttl time.Duration) *ConfirmationService {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ConfirmationService{
		redis:       redisClient,
		asynqClient: asynqClient,
		hub:         hub,
		ttl:         ttl,
	}
}

// Evaluate classifies a proposed change's risk. Pure: identical inputs always
// yield the identical verdict. Rules apply in priority order.
func Evaluate(changeType string, affectedTables, affectedComponents []string) model.RiskAssessment {
	for _, highRisk := range model.HighRiskChangeTypes {
		if changeType == highRisk {
			return model.RiskAssessment{
				Required:  true,
				Severity:  model.SeverityHigh,
				Reasoning: fmt.Sprintf("Change type %q always requires approval", changeType),
			}
		}
	}

	if len(affectedTables) > 2 || len(affectedComponents) > 5 {
		return model.RiskAssessment{
			Required: true,
			Severity: model.SeverityMedium,
			Reasoning: fmt.Sprintf("Wide scope: %d tables, %d components affected",
				len(affectedTables), len(affectedComponents)),
		}
	}

	lower := strings.ToLower(changeType)
	if strings.Contains(lower, "delete") || strings.Contains(lower, "remove") {
		return model.RiskAssessment{
			Required:  true,
			Severity:  model.SeverityMedium,
			Reasoning: "Destructive change type requires approval",
		}
	}

	return model.RiskAssessment{
		Required:  false,
		Severity:  model.SeverityLow,
		Reasoning: "Low-risk change, no approval required",
	}
}

// Request persists a PendingConfirmation with a generated preview and
// schedules its expiry.
func (s *ConfirmationService) Request(ctx context.Context, req *model.ConfirmationRequestRequest) (*model.ConfirmationRequestResponse, error) {
	assessment := Evaluate(req.ChangeType, req.AffectedTables, req.AffectedComponents)

	now := time.Now()
	conf := &model.PendingConfirmation{
		ID:                 uuid.New().String(),
		JobID:              req.JobID,
		ChangeType:         req.ChangeType,
		Severity:           assessment.Severity,
		Preview:            BuildPreview(req.ChangeType, req.ProposedChanges, req.AffectedTables, req.AffectedComponents),
		ProposedChanges:    req.ProposedChanges,
		AffectedTables:     req.AffectedTables,
		AffectedComponents: req.AffectedComponents,
		Resolution:         model.ResolutionPending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.ttl),
	}

	if err := s.save(ctx, conf); err != nil {
		return nil, fmt.Errorf("failed to save confirmation: %w", err)
	}

	task, err := newExpiryTask(conf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create expiry task: %w", err)
	}
	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("maintenance"),
		asynq.ProcessIn(s.ttl),
		asynq.Retention(confirmationRetention),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule expiry: %w", err)
	}

	s.hub.BroadcastConfirmation(conf.JobID, conf)

	return &model.ConfirmationRequestResponse{
		ConfirmationID: conf.ID,
		Preview:        conf.Preview,
		Severity:       conf.Severity,
		ExpiresAt:      conf.ExpiresAt,
	}, nil
}

// Get returns the full confirmation record, including the preview a caller
// needs to decide whether to re-request after expiry.
func (s *ConfirmationService) Get(ctx context.Context, id string) (*model.PendingConfirmation, error) {
	return s.get(ctx, id)
}

// Resolve settles a pending confirmation exactly once. Past the window the
// decision is rejected with ErrConfirmationExpired regardless of its value.
func (s *ConfirmationService) Resolve(ctx context.Context, id string, decision model.Resolution) (*model.PendingConfirmation, error) {
	conf, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if conf.Resolution != model.ResolutionPending {
		if conf.Resolution == model.ResolutionExpired {
			return nil, ErrConfirmationExpired
		}
		return nil, ErrAlreadyResolved
	}

	now := time.Now()
	if !now.Before(conf.ExpiresAt) {
		// Settle the record so later readers see the expiry, then surface it
		if s.markResolved(ctx, id) {
			conf.Resolution = model.ResolutionExpired
			conf.ResolvedAt = &now
			if err := s.save(ctx, conf); err != nil {
				return nil, err
			}
			s.hub.BroadcastConfirmation(conf.JobID, conf)
		}
		return nil, ErrConfirmationExpired
	}

	// SetNX marker makes resolution exactly-once under concurrent resolvers
	if !s.markResolved(ctx, id) {
		return nil, ErrAlreadyResolved
	}

	conf.Resolution = decision
	conf.ResolvedAt = &now
	if err := s.save(ctx, conf); err != nil {
		return nil, err
	}

	s.hub.BroadcastConfirmation(conf.JobID, conf)
	return conf, nil
}

// Expire flips a still-pending confirmation to expired. Idempotent; called by
// the scheduled expiry worker at the deadline.
func (s *ConfirmationService) Expire(ctx context.Context, id string) error {
	conf, err := s.get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrConfirmationNotFound) {
			return nil
		}
		return err
	}
	if conf.Resolution != model.ResolutionPending {
		return nil
	}
	if !s.markResolved(ctx, id) {
		return nil
	}

	now := time.Now()
	conf.Resolution = model.ResolutionExpired
	conf.ResolvedAt = &now
	if err := s.save(ctx, conf); err != nil {
		return err
	}

	s.hub.BroadcastConfirmation(conf.JobID, conf)
	return nil
}

// AwaitResolution polls until the confirmation leaves pending or the context
// ends. The wait is bounded by the expiry deadline because the expiry task
// settles the record.
func (s *ConfirmationService) AwaitResolution(ctx context.Context, id string, interval time.Duration) (model.Resolution, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for {
		conf, err := s.get(ctx, id)
		if err != nil {
			return "", err
		}
		if conf.Resolution != model.ResolutionPending {
			return conf.Resolution, nil
		}
		if !time.Now().Before(conf.ExpiresAt) {
			// Deadline passed but the expiry task has not landed yet
			if err := s.Expire(ctx, id); err != nil {
				return "", err
			}
			return model.ResolutionExpired, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

// BuildPreview renders the human-readable Markdown approval preview. The
// diff/SQL body is capped at 500 characters with a truncation marker.
func BuildPreview(changeType, proposedChanges string, affectedTables, affectedComponents []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Proposed change: %s\n\n", changeType)

	if len(affectedTables) > 0 {
		b.WriteString("**Affected tables:**\n")
		for _, t := range affectedTables {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}

	if len(affectedComponents) > 0 {
		b.WriteString("**Affected components:**\n")
		for _, c := range affectedComponents {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	body := proposedChanges
	if len(body) > previewBodyLimit {
		cut := previewBodyLimit
		// Back off to a rune boundary so the cut never produces invalid UTF-8
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "\n... (truncated)"
	}
	fmt.Fprintf(&b, "```\n%s\n```\n\n", body)

	b.WriteString("Approve this change to continue, or reject to abort.\n")
	return b.String()
}

// Helper methods

func (s *ConfirmationService) markResolved(ctx context.Context, id string) bool {
	ok, err := s.redis.SetNX(ctx, fmt.Sprintf("confirmation:resolved:%s", id), "1", confirmationRetention).Result()
	if err != nil {
		return false
	}
	return ok
}

func (s *ConfirmationService) save(ctx context.Context, conf *model.PendingConfirmation) error {
	data, err := json.Marshal(conf)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("confirmation:%s", conf.ID), data, confirmationRetention).Err()
}

func (s *ConfirmationService) get(ctx context.Context, id string) (*model.PendingConfirmation, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("confirmation:%s", id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrConfirmationNotFound
		}
		return nil, err
	}

	var conf model.PendingConfirmation
	if err := json.Unmarshal(data, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

func newExpiryTask(confirmationID string) (*asynq.Task, error) {
	data, err := json.Marshal(map[string]interface{}{"confirmationId": confirmationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeConfirmationExpiry, data), nil
}
