package model

import "time"

// ThinkingStep is one sub-task telemetry event within a scope
type ThinkingStep struct {
	Operation  string         `json:"operation"`
	Detail     string         `json:"detail,omitempty"`
	Status     ThinkingStatus `json:"status"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ThinkingEmitRequest represents the request body for emitting a step
type ThinkingEmitRequest struct {
	Operation  string         `json:"operation" validate:"required,min=1,max=200"`
	Detail     string         `json:"detail" validate:"omitempty,max=2000"`
	Status     ThinkingStatus `json:"status" validate:"required,oneof=pending active complete"`
	DurationMs int64          `json:"durationMs" validate:"omitempty,min=0"`
}

// ThinkingStepsResponse represents a scope's recorded steps
type ThinkingStepsResponse struct {
	ScopeID    string         `json:"scopeId"`
	Steps      []ThinkingStep `json:"steps"`
	IsThinking bool           `json:"isThinking"`
}
