package model

import "time"

// FixExperiment compares two fix variants for a recurring error pattern
type FixExperiment struct {
	ID             string           `json:"id"`
	ErrorPatternID string           `json:"errorPatternId"`
	VariantA       string           `json:"variantA"`
	VariantB       string           `json:"variantB"`
	Status         ExperimentStatus `json:"status"`
	TrialsA        int64            `json:"trialsA"`
	SuccessesA     int64            `json:"successesA"`
	TrialsB        int64            `json:"trialsB"`
	SuccessesB     int64            `json:"successesB"`
	WinningVariant Variant          `json:"winningVariant,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	ConcludedAt    *time.Time       `json:"concludedAt,omitempty"`
}

// SuccessRate returns the observed success rate for a variant, 0 when untried
func (e *FixExperiment) SuccessRate(v Variant) float64 {
	trials, successes := e.TrialsA, e.SuccessesA
	if v == VariantB {
		trials, successes = e.TrialsB, e.SuccessesB
	}
	if trials == 0 {
		return 0
	}
	return float64(successes) / float64(trials)
}

// ExperimentResult is one recorded trial
type ExperimentResult struct {
	ExperimentID    string    `json:"experimentId"`
	VariantUsed     Variant   `json:"variantUsed"`
	Success         bool      `json:"success"`
	ExecutionTimeMs int64     `json:"executionTimeMs,omitempty"`
	Error           string    `json:"error,omitempty"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// FixRouting is the router's answer for an error pattern
type FixRouting struct {
	Variant Variant `json:"variant"`
	Fix     string  `json:"fix"`
}

// ExperimentCreateRequest represents the request body for creating an experiment
type ExperimentCreateRequest struct {
	ErrorPatternID string `json:"errorPatternId" validate:"required,min=1,max=200"`
	VariantA       string `json:"variantA" validate:"required,max=100000"`
	VariantB       string `json:"variantB" validate:"required,max=100000"`
}

// ExperimentCreateResponse represents the response when an experiment is created
type ExperimentCreateResponse struct {
	ExperimentID string           `json:"experimentId"`
	Status       ExperimentStatus `json:"status"`
}

// ExperimentResultRequest represents the request body for recording a trial
type ExperimentResultRequest struct {
	Variant         Variant `json:"variant" validate:"required,oneof=A B"`
	Success         *bool   `json:"success" validate:"required"`
	ExecutionTimeMs int64   `json:"executionTimeMs" validate:"omitempty,min=0"`
	Error           string  `json:"error" validate:"omitempty,max=2000"`
}

// ExperimentConcludeRequest represents the request body for concluding an experiment
type ExperimentConcludeRequest struct {
	Winner Variant `json:"winner" validate:"required,oneof=A B"`
}

// ExperimentStatsResponse represents aggregated experiment state
type ExperimentStatsResponse struct {
	ExperimentID   string           `json:"experimentId"`
	ErrorPatternID string           `json:"errorPatternId"`
	Status         ExperimentStatus `json:"status"`
	TrialsA        int64            `json:"trialsA"`
	SuccessesA     int64            `json:"successesA"`
	SuccessRateA   float64          `json:"successRateA"`
	TrialsB        int64            `json:"trialsB"`
	SuccessesB     int64            `json:"successesB"`
	SuccessRateB   float64          `json:"successRateB"`
	WinningVariant Variant          `json:"winningVariant,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	ConcludedAt    *time.Time       `json:"concludedAt,omitempty"`
}
