package model

// QualityGatePolicy is the per-scope bar a finished artifact must clear
type QualityGatePolicy struct {
	MinCodeQualityScore int  `json:"minCodeQualityScore" validate:"min=0,max=100"`
	MaxSecurityIssues   int  `json:"maxSecurityIssues" validate:"min=0"`
	MaxCriticalIssues   int  `json:"maxCriticalIssues" validate:"min=0"`
	RequireTests        bool `json:"requireTests"`
	MinTestCoverage     int  `json:"minTestCoverage" validate:"min=0,max=100"`
	BlockOnFail         bool `json:"blockOnFail"`
}

// QualityMetrics are the measured values of a finished artifact
type QualityMetrics struct {
	CodeQualityScore int  `json:"codeQualityScore" validate:"min=0,max=100"`
	SecurityIssues   int  `json:"securityIssues" validate:"min=0"`
	CriticalIssues   int  `json:"criticalIssues" validate:"min=0"`
	TestsWritten     bool `json:"testsWritten"`
	TestCoverage     int  `json:"testCoverage" validate:"min=0,max=100"`
}

// QualityViolation is one failing criterion
type QualityViolation struct {
	Type     ViolationType `json:"type"`
	Message  string        `json:"message"`
	Current  int           `json:"current"`
	Required int           `json:"required"`
}

// QualityVerdict is the gate's full answer
type QualityVerdict struct {
	Passed     bool               `json:"passed"`
	Blocked    bool               `json:"blocked"`
	Violations []QualityViolation `json:"violations"`
}

// QualityEvaluateRequest represents the request body for a gate evaluation.
// Policy is optional; when omitted the caller's stored policy applies.
type QualityEvaluateRequest struct {
	Policy  *QualityGatePolicy `json:"policy" validate:"omitempty"`
	Metrics QualityMetrics     `json:"metrics" validate:"required"`
}
