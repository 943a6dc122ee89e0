package model

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status accepts further transitions
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job phases
type PhaseType string

const (
	PhaseAnalyze       PhaseType = "analyze"
	PhaseGenerate      PhaseType = "generate"
	PhaseConfirm       PhaseType = "confirm_changes"
	PhaseApplyFixes    PhaseType = "apply_fixes"
	PhaseQualityReview PhaseType = "quality_review"
	PhaseFinalize      PhaseType = "finalize"
)

// Confirmation severity
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Confirmation resolution
type Resolution string

const (
	ResolutionPending  Resolution = "pending"
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
	ResolutionExpired  Resolution = "expired"
)

// Change types that always require human approval
const (
	ChangeTypeSchemaMigration = "schema_migration"
	ChangeTypeRLSPolicy       = "rls_policy_change"
	ChangeTypeAuthSystem      = "auth_system_change"
	ChangeTypeTableDeletion   = "table_deletion"
	ChangeTypeColumnDeletion  = "column_deletion"
)

var HighRiskChangeTypes = []string{
	ChangeTypeSchemaMigration,
	ChangeTypeRLSPolicy,
	ChangeTypeAuthSystem,
	ChangeTypeTableDeletion,
	ChangeTypeColumnDeletion,
}

// Experiment status
type ExperimentStatus string

const (
	ExperimentStatusRunning   ExperimentStatus = "running"
	ExperimentStatusCompleted ExperimentStatus = "completed"
	ExperimentStatusCancelled ExperimentStatus = "cancelled"
)

// Experiment variants
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// Thinking step status
type ThinkingStatus string

const (
	ThinkingStatusPending  ThinkingStatus = "pending"
	ThinkingStatusActive   ThinkingStatus = "active"
	ThinkingStatusComplete ThinkingStatus = "complete"
)

// OperationExecutionComplete is the distinguished signal that settles a scope's
// remaining non-complete steps.
const OperationExecutionComplete = "execution_complete"

// Quality gate violation types
type ViolationType string

const (
	ViolationCodeQuality    ViolationType = "code_quality"
	ViolationSecurity       ViolationType = "security"
	ViolationCriticalIssues ViolationType = "critical_issues"
	ViolationTestCoverage   ViolationType = "test_coverage"
)
