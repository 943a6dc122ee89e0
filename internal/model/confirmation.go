package model

import "time"

// PendingConfirmation is a time-boxed approval request for a risky change
type PendingConfirmation struct {
	ID                 string     `json:"id"`
	JobID              string     `json:"jobId,omitempty"`
	ChangeType         string     `json:"changeType"`
	Severity           Severity   `json:"severity"`
	Preview            string     `json:"preview"`
	ProposedChanges    string     `json:"proposedChanges"`
	AffectedTables     []string   `json:"affectedTables,omitempty"`
	AffectedComponents []string   `json:"affectedComponents,omitempty"`
	Resolution         Resolution `json:"resolution"`
	CreatedAt          time.Time  `json:"createdAt"`
	ExpiresAt          time.Time  `json:"expiresAt"`
	ResolvedAt         *time.Time `json:"resolvedAt,omitempty"`
}

// RiskAssessment is the verdict of the confirmation gate's classifier
type RiskAssessment struct {
	Required  bool     `json:"required"`
	Severity  Severity `json:"severity"`
	Reasoning string   `json:"reasoning"`
}

// ConfirmationEvaluateRequest represents the request body for risk classification
type ConfirmationEvaluateRequest struct {
	ChangeType         string   `json:"changeType" validate:"required,min=1,max=100"`
	ProposedChanges    string   `json:"proposedChanges" validate:"omitempty,max=100000"`
	AffectedTables     []string `json:"affectedTables" validate:"omitempty,dive,min=1"`
	AffectedComponents []string `json:"affectedComponents" validate:"omitempty,dive,min=1"`
}

// ConfirmationRequestRequest represents the request body for creating a confirmation
type ConfirmationRequestRequest struct {
	JobID              string   `json:"jobId" validate:"omitempty,uuid"`
	ChangeType         string   `json:"changeType" validate:"required,min=1,max=100"`
	ProposedChanges    string   `json:"proposedChanges" validate:"required,max=100000"`
	AffectedTables     []string `json:"affectedTables" validate:"omitempty,dive,min=1"`
	AffectedComponents []string `json:"affectedComponents" validate:"omitempty,dive,min=1"`
}

// ConfirmationRequestResponse represents the response when a confirmation is created
type ConfirmationRequestResponse struct {
	ConfirmationID string    `json:"confirmationId"`
	Preview        string    `json:"preview"`
	Severity       Severity  `json:"severity"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// ConfirmationResolveRequest represents the request body for resolving a confirmation
type ConfirmationResolveRequest struct {
	Decision Resolution `json:"decision" validate:"required,oneof=approved rejected"`
}

// ConfirmationResolveResponse represents the response to a resolve request
type ConfirmationResolveResponse struct {
	Success    bool       `json:"success"`
	Resolution Resolution `json:"resolution"`
}
