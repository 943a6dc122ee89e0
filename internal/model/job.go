package model

import "time"

// Job represents one orchestrated generation run
type Job struct {
	ID                    string         `json:"id"`
	UserID                string         `json:"userId"`
	Status                JobStatus      `json:"status"`
	Progress              int            `json:"progress"`
	CurrentStep           string         `json:"currentStep,omitempty"`
	Phases                []Phase        `json:"phases"`
	StreamUpdates         []StreamUpdate `json:"streamUpdates"`
	EstimatedCompletionAt *time.Time     `json:"estimatedCompletionAt,omitempty"`
	Error                 *string        `json:"error,omitempty"`
	Warnings              []string       `json:"warnings,omitempty"`
	Spec                  JobSpec        `json:"spec"`
	Artifact              []byte         `json:"artifact,omitempty"` // Stored as JSON
	CreatedAt             time.Time      `json:"createdAt"`
	StartedAt             *time.Time     `json:"startedAt,omitempty"`
	CompletedAt           *time.Time     `json:"completedAt,omitempty"`
	RetryCount            int            `json:"retryCount"`
}

// Phase is one step of a job's plan
type Phase struct {
	Type     PhaseType `json:"type"`
	Label    string    `json:"label"`
	Progress int       `json:"progress"` // progress value reached when this phase completes
}

// StreamUpdate is one entry of a job's append-only notice log
type StreamUpdate struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// JobSpec describes what a job should generate
type JobSpec struct {
	ProjectID          string          `json:"projectId"`
	Request            string          `json:"request"`
	ProposedChange     *ProposedChange `json:"proposedChange,omitempty"`
	KnownErrorPatterns []string        `json:"knownErrorPatterns,omitempty"`
}

// ProposedChange describes a risky change the generation wants to apply
type ProposedChange struct {
	ChangeType         string   `json:"changeType"`
	Payload            string   `json:"payload"` // diff or SQL body
	AffectedTables     []string `json:"affectedTables,omitempty"`
	AffectedComponents []string `json:"affectedComponents,omitempty"`
}

// GenerationArtifact is the output of a completed job
type GenerationArtifact struct {
	ProjectID   string    `json:"projectId"`
	Code        string    `json:"code"`
	FixesTried  int       `json:"fixesTried"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// JobCreateRequest represents the request body for creating a job
type JobCreateRequest struct {
	ProjectID          string          `json:"projectId" validate:"required,uuid"`
	Request            string          `json:"request" validate:"required,min=1,max=4000"`
	ProposedChange     *ProposedChange `json:"proposedChange" validate:"omitempty"`
	KnownErrorPatterns []string        `json:"knownErrorPatterns" validate:"omitempty,max=10,dive,min=1"`
}

// JobCreateResponse represents the response when a job is accepted
type JobCreateResponse struct {
	JobID                 string     `json:"jobId"`
	Status                JobStatus  `json:"status"`
	EstimatedCompletionAt *time.Time `json:"estimatedCompletionAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}

// JobStatusResponse represents the externally visible job state
type JobStatusResponse struct {
	JobID                 string         `json:"jobId"`
	Status                JobStatus      `json:"status"`
	Progress              int            `json:"progress"`
	CurrentStep           string         `json:"currentStep,omitempty"`
	Phases                []Phase        `json:"phases"`
	StreamUpdates         []StreamUpdate `json:"streamUpdates"`
	EstimatedCompletionAt *time.Time     `json:"estimatedCompletionAt,omitempty"`
	Error                 *string        `json:"error,omitempty"`
	Warnings              []string       `json:"warnings,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	StartedAt             *time.Time     `json:"startedAt,omitempty"`
	CompletedAt           *time.Time     `json:"completedAt,omitempty"`
}

// JobCancelResponse represents the response to a cancel request
type JobCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}
