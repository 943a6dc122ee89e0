package model

import "time"

// WebSocket message types
const (
	WSMessageTypeJobUpdate    = "job_update"
	WSMessageTypeComplete     = "complete"
	WSMessageTypeError        = "error"
	WSMessageTypeThinkingStep = "thinking_step"
	WSMessageTypeConfirmation = "confirmation"
	WSMessageTypePing         = "ping"
	WSMessageTypePong         = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSJobUpdateMessage carries a job's current state to subscribers
type WSJobUpdateMessage struct {
	Type        string    `json:"type"`
	JobID       string    `json:"jobId"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"currentStep,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type   string      `json:"type"`
	JobID  string      `json:"jobId"`
	Result interface{} `json:"result"`
}

// WSErrorMessage represents a terminal failure
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSThinkingStepMessage carries a thinking step event
type WSThinkingStepMessage struct {
	Type       string       `json:"type"`
	ScopeID    string       `json:"scopeId"`
	Step       ThinkingStep `json:"step"`
	IsThinking bool         `json:"isThinking"`
}

// WSConfirmationMessage announces a confirmation state change on a job scope
type WSConfirmationMessage struct {
	Type           string     `json:"type"`
	JobID          string     `json:"jobId"`
	ConfirmationID string     `json:"confirmationId"`
	Severity       Severity   `json:"severity"`
	Resolution     Resolution `json:"resolution"`
	ExpiresAt      time.Time  `json:"expiresAt"`
}
