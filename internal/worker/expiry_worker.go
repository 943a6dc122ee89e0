package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/amharic-code-craft/orchestrator/internal/service"
)

// ExpiryWorker settles confirmations whose approval window has closed. One
// task is scheduled per confirmation at creation time (asynq.ProcessIn), so
// no polling loop scans for deadlines.
type ExpiryWorker struct {
	confirmations *service.ConfirmationService
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(confirmations *service.ConfirmationService) *ExpiryWorker {
	return &ExpiryWorker{confirmations: confirmations}
}

// ProcessTask flips a still-pending confirmation to expired. Idempotent:
// confirmations resolved before the deadline are left untouched.
func (w *ExpiryWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		ConfirmationID string `json:"confirmationId"`
	}
	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	if err := w.confirmations.Expire(ctx, taskPayload.ConfirmationID); err != nil {
		return fmt.Errorf("failed to expire confirmation %s: %w", taskPayload.ConfirmationID, err)
	}

	log.Printf("Confirmation %s expiry processed", taskPayload.ConfirmationID)
	return nil
}
