package service

import (
	"testing"

	"github.com/amharic-code-craft/orchestrator/internal/model"
)

func phaseTypes(phases []model.Phase) []model.PhaseType {
	types := make([]model.PhaseType, len(phases))
	for i, p := range phases {
		types[i] = p.Type
	}
	return types
}

func TestBuildPhases_Minimal(t *testing.T) {
	spec := &model.JobSpec{ProjectID: "p1", Request: "add a page"}

	phases := BuildPhases(spec)
	want := []model.PhaseType{
		model.PhaseAnalyze,
		model.PhaseGenerate,
		model.PhaseQualityReview,
		model.PhaseFinalize,
	}
	got := phaseTypes(phases)
	if len(got) != len(want) {
		t.Fatalf("expected %d phases, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("phase %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBuildPhases_WithProposedChange(t *testing.T) {
	spec := &model.JobSpec{
		ProjectID:      "p1",
		Request:        "drop table",
		ProposedChange: &model.ProposedChange{ChangeType: "table_deletion", Payload: "DROP TABLE x;"},
	}

	got := phaseTypes(BuildPhases(spec))
	found := false
	for _, pt := range got {
		if pt == model.PhaseConfirm {
			found = true
		}
	}
	if !found {
		t.Errorf("expected confirm_changes phase, got %v", got)
	}
}

func TestBuildPhases_WithKnownErrorPatterns(t *testing.T) {
	spec := &model.JobSpec{
		ProjectID:          "p1",
		Request:            "fix build",
		KnownErrorPatterns: []string{"missing-import"},
	}

	got := phaseTypes(BuildPhases(spec))
	found := false
	for _, pt := range got {
		if pt == model.PhaseApplyFixes {
			found = true
		}
	}
	if !found {
		t.Errorf("expected apply_fixes phase, got %v", got)
	}
}

func TestBuildPhases_ProgressIsMonotonic(t *testing.T) {
	spec := &model.JobSpec{
		ProjectID:          "p1",
		Request:            "everything",
		ProposedChange:     &model.ProposedChange{ChangeType: "schema_migration", Payload: "ALTER"},
		KnownErrorPatterns: []string{"pat-1"},
	}

	phases := BuildPhases(spec)
	prev := -1
	for _, p := range phases {
		if p.Progress <= prev {
			t.Errorf("phase %s progress %d not above previous %d", p.Type, p.Progress, prev)
		}
		prev = p.Progress
	}
	if phases[len(phases)-1].Progress != 100 {
		t.Errorf("expected final phase at 100, got %d", phases[len(phases)-1].Progress)
	}
}

func TestFormatViolations(t *testing.T) {
	msg := formatViolations([]model.QualityViolation{
		{Message: "score too low"},
		{Message: "too many issues"},
	})
	if msg != "Quality gate failed: score too low; too many issues" {
		t.Errorf("unexpected message: %q", msg)
	}
}
