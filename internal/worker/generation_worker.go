package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/amharic-code-craft/orchestrator/internal/client"
	"github.com/amharic-code-craft/orchestrator/internal/model"
	"github.com/amharic-code-craft/orchestrator/internal/service"
)

const generationSystemPrompt = `You are a senior engineer generating production code for a hosted web project.
Return only the code for the requested change, no commentary.`

// GenerationWorker drives a job through its phase plan. It holds the job's
// ownership lease for the duration of the task, checks for cooperative
// cancellation at every phase boundary, and feeds the thinking tracker as it
// goes. Telemetry failures are logged and never block progress.
type GenerationWorker struct {
	jobs          *service.JobService
	confirmations *service.ConfirmationService
	experiments   *service.ExperimentService
	thinking      *service.ThinkingService
	aiClient      *client.AIClient
	pollInterval  time.Duration
}

// NewGenerationWorker creates a new generation worker
func NewGenerationWorker(
	jobs *service.JobService,
	confirmations *service.ConfirmationService,
	experiments *service.ExperimentService,
	thinking *service.ThinkingService,
	aiClient *client.AIClient,
	pollInterval time.Duration,
) *GenerationWorker {
	return &GenerationWorker{
		jobs:          jobs,
		confirmations: confirmations,
		experiments:   experiments,
		thinking:      thinking,
		aiClient:      aiClient,
		pollInterval:  pollInterval,
	}
}

// ProcessTask handles one generation job end to end
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := taskPayload.JobID
	log.Printf("Starting generation job: %s", jobID)

	job, err := w.jobs.LoadJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		log.Printf("Generation job %s already terminal (%s), skipping", jobID, job.Status)
		return nil
	}

	ownerID := uuid.New().String()
	if err := w.jobs.AcquireOwnership(ctx, jobID, ownerID); err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	defer w.jobs.ReleaseOwnership(ctx, jobID, ownerID)

	run := &jobRun{job: job, ownerID: ownerID}

	for _, phase := range job.Phases {
		cancelled, err := w.jobs.IsCancelled(ctx, jobID)
		if err != nil {
			return fmt.Errorf("checkpoint failed for job %s: %w", jobID, err)
		}
		if cancelled {
			log.Printf("Generation job %s cancelled, stopping at phase %s", jobID, phase.Type)
			w.emitStep(ctx, jobID, model.OperationExecutionComplete, "Job cancelled", model.ThinkingStatusComplete, 0)
			return nil
		}

		if err := w.runPhase(ctx, run, phase); err != nil {
			if errors.Is(err, errJobAborted) {
				// Already failed with a user-visible reason
				return nil
			}
			w.failJob(ctx, jobID, err.Error())
			return err
		}
	}

	log.Printf("Generation job %s completed", jobID)
	return nil
}

// errJobAborted signals that the phase already settled the job terminally
var errJobAborted = errors.New("job aborted")

type jobRun struct {
	job        *model.Job
	ownerID    string
	code       string
	fixesTried int
}

func (w *GenerationWorker) runPhase(ctx context.Context, run *jobRun, phase model.Phase) error {
	jobID := run.job.ID

	switch phase.Type {
	case model.PhaseAnalyze:
		w.advance(ctx, run, phase, "Analyzing request scope")
		w.emitStep(ctx, jobID, "analyze_request", run.job.Spec.Request, model.ThinkingStatusComplete, 0)
		return nil

	case model.PhaseGenerate:
		w.emitStep(ctx, jobID, "generate_code", "Generating code", model.ThinkingStatusActive, 0)
		start := time.Now()

		code, err := w.generateCode(ctx, run.job)
		if err != nil {
			// External call failures are surfaced, never retried internally
			w.failJob(ctx, jobID, fmt.Sprintf("Code generation failed: %v", err))
			return errJobAborted
		}
		run.code = code

		w.emitStep(ctx, jobID, "generate_code", "Code generated", model.ThinkingStatusComplete, time.Since(start).Milliseconds())
		w.advance(ctx, run, phase, "Code generated")
		return nil

	case model.PhaseConfirm:
		return w.runConfirmPhase(ctx, run, phase)

	case model.PhaseApplyFixes:
		return w.runFixPhase(ctx, run, phase)

	case model.PhaseQualityReview:
		w.advance(ctx, run, phase, "Reviewing generated code")
		w.emitStep(ctx, jobID, "quality_review", "Quality metrics collected", model.ThinkingStatusComplete, 0)
		return nil

	case model.PhaseFinalize:
		artifact := &model.GenerationArtifact{
			ProjectID:   run.job.Spec.ProjectID,
			Code:        run.code,
			FixesTried:  run.fixesTried,
			GeneratedAt: time.Now(),
		}
		metrics := w.collectMetrics(run)

		if err := w.jobs.Complete(ctx, jobID, run.ownerID, artifact, metrics); err != nil {
			if errors.Is(err, service.ErrJobTerminal) {
				return errJobAborted
			}
			return fmt.Errorf("failed to complete job: %w", err)
		}
		w.emitStep(ctx, jobID, model.OperationExecutionComplete, "Generation finished", model.ThinkingStatusComplete, 0)
		return nil

	default:
		return fmt.Errorf("unknown phase %q", phase.Type)
	}
}

// runConfirmPhase gates the job's proposed change on human approval. The job
// never proceeds past this phase on rejection or expiry.
func (w *GenerationWorker) runConfirmPhase(ctx context.Context, run *jobRun, phase model.Phase) error {
	jobID := run.job.ID
	change := run.job.Spec.ProposedChange
	if change == nil {
		return nil
	}

	assessment := service.Evaluate(change.ChangeType, change.AffectedTables, change.AffectedComponents)
	if !assessment.Required {
		w.advance(ctx, run, phase, "Change is low risk, no approval needed")
		return nil
	}

	w.advance(ctx, run, phase, fmt.Sprintf("Awaiting approval (%s risk): %s", assessment.Severity, assessment.Reasoning))
	w.emitStep(ctx, jobID, "await_confirmation", change.ChangeType, model.ThinkingStatusActive, 0)

	resp, err := w.confirmations.Request(ctx, &model.ConfirmationRequestRequest{
		JobID:              jobID,
		ChangeType:         change.ChangeType,
		ProposedChanges:    change.Payload,
		AffectedTables:     change.AffectedTables,
		AffectedComponents: change.AffectedComponents,
	})
	if err != nil {
		return fmt.Errorf("failed to request confirmation: %w", err)
	}

	resolution, err := w.confirmations.AwaitResolution(ctx, resp.ConfirmationID, w.pollInterval)
	if err != nil {
		return fmt.Errorf("confirmation wait failed: %w", err)
	}

	w.emitStep(ctx, jobID, "await_confirmation", string(resolution), model.ThinkingStatusComplete, 0)

	switch resolution {
	case model.ResolutionApproved:
		w.advance(ctx, run, phase, "Change approved")
		return nil
	case model.ResolutionRejected:
		w.failJob(ctx, jobID, fmt.Sprintf("Change %q was rejected by the approver", change.ChangeType))
		return errJobAborted
	default:
		w.failJob(ctx, jobID, fmt.Sprintf("Approval for %q expired at %s without a decision",
			change.ChangeType, resp.ExpiresAt.Format(time.RFC3339)))
		return errJobAborted
	}
}

// runFixPhase routes each known error pattern through the experiment router
// and records the outcome of the applied fix. Both the routing miss and the
// result-write failure are non-fatal.
func (w *GenerationWorker) runFixPhase(ctx context.Context, run *jobRun, phase model.Phase) error {
	jobID := run.job.ID
	w.advance(ctx, run, phase, "Applying known-error fixes")

	for _, pattern := range run.job.Spec.KnownErrorPatterns {
		routing, err := w.experiments.GetRouting(ctx, pattern)
		if err != nil {
			if errors.Is(err, service.ErrNoExperiment) {
				log.Printf("No experiment for pattern %s, skipping", pattern)
				continue
			}
			log.Printf("Routing failed for pattern %s: %v", pattern, err)
			continue
		}

		start := time.Now()
		success := w.applyFix(run, routing.Fix)
		run.fixesTried++

		expID, err := w.experimentIDForPattern(ctx, pattern)
		if err != nil {
			log.Printf("Failed to resolve experiment for pattern %s: %v", pattern, err)
			continue
		}

		ok := success
		result := &model.ExperimentResultRequest{
			Variant:         routing.Variant,
			Success:         &ok,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
		if !success {
			result.Error = fmt.Sprintf("fix for %s did not apply cleanly", pattern)
		}
		if err := w.experiments.RecordResult(ctx, expID, result); err != nil {
			// Telemetry failure: logged, never blocks the job
			log.Printf("Failed to record experiment result for %s: %v", expID, err)
		}

		w.emitStep(ctx, jobID, "apply_fix", fmt.Sprintf("%s via variant %s", pattern, routing.Variant),
			model.ThinkingStatusComplete, time.Since(start).Milliseconds())
	}

	return nil
}

func (w *GenerationWorker) experimentIDForPattern(ctx context.Context, pattern string) (string, error) {
	stats, err := w.experiments.StatsForPattern(ctx, pattern)
	if err != nil {
		return "", err
	}
	return stats.ExperimentID, nil
}

// applyFix applies a routed fix payload to the generated code
func (w *GenerationWorker) applyFix(run *jobRun, fix string) bool {
	if strings.TrimSpace(fix) == "" {
		return false
	}
	run.code = run.code + "\n" + fix
	return true
}

// generateCode produces the artifact code via the AI gateway, or a
// deterministic mock when the gateway is not configured.
func (w *GenerationWorker) generateCode(ctx context.Context, job *model.Job) (string, error) {
	if w.aiClient == nil || !w.aiClient.IsConfigured() {
		return w.generateMockCode(job), nil
	}

	prompt := buildGenerationPrompt(&job.Spec)
	return w.aiClient.ChatCompletion(ctx, generationSystemPrompt, prompt)
}

func (w *GenerationWorker) generateMockCode(job *model.Job) string {
	return fmt.Sprintf("// Generated for project %s\n// Request: %s\nexport default function Generated() {}\n",
		job.Spec.ProjectID, job.Spec.Request)
}

func buildGenerationPrompt(spec *model.JobSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\nRequest:\n%s\n", spec.ProjectID, spec.Request)
	if spec.ProposedChange != nil {
		fmt.Fprintf(&b, "\nPlanned change (%s):\n%s\n", spec.ProposedChange.ChangeType, spec.ProposedChange.Payload)
	}
	return b.String()
}

// collectMetrics derives the quality metrics handed to the gate from the
// run's own bookkeeping. With no static analyzer wired in, each fix the run
// needed discounts the base score, and test presence is read off the artifact.
func (w *GenerationWorker) collectMetrics(run *jobRun) *model.QualityMetrics {
	score := 85 - 5*run.fixesTried
	if score < 50 {
		score = 50
	}

	testsWritten := containsTests(run.code)
	coverage := 0
	if testsWritten {
		coverage = 40
	}

	return &model.QualityMetrics{
		CodeQualityScore: score,
		SecurityIssues:   0,
		CriticalIssues:   0,
		TestsWritten:     testsWritten,
		TestCoverage:     coverage,
	}
}

// containsTests reports whether the generated code carries any test scaffolding
func containsTests(code string) bool {
	lower := strings.ToLower(code)
	return strings.Contains(lower, "func test") ||
		strings.Contains(lower, "describe(") ||
		strings.Contains(lower, "it(\"") ||
		strings.Contains(lower, "test(")
}

func (w *GenerationWorker) advance(ctx context.Context, run *jobRun, phase model.Phase, message string) {
	if err := w.jobs.Advance(ctx, run.job.ID, run.ownerID, phase.Progress, phase.Label, message); err != nil {
		log.Printf("Failed to advance job %s: %v", run.job.ID, err)
	}
}

func (w *GenerationWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.jobs.Fail(ctx, jobID, errMsg); err != nil {
		log.Printf("Failed to mark job %s as failed: %v", jobID, err)
	}
}

func (w *GenerationWorker) emitStep(ctx context.Context, scopeID, operation, detail string, status model.ThinkingStatus, durationMs int64) {
	err := w.thinking.Emit(ctx, scopeID, &model.ThinkingEmitRequest{
		Operation:  operation,
		Detail:     detail,
		Status:     status,
		DurationMs: durationMs,
	})
	if err != nil {
		// Telemetry failure: logged, never blocks the job
		log.Printf("Failed to emit thinking step for %s: %v", scopeID, err)
	}
}
