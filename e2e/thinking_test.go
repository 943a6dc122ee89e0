package e2e

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func emitStep(t *testing.T, ta *testApp, scopeID, operation, status string) map[string]interface{} {
	t.Helper()
	body := fmt.Sprintf(`{"operation": "%s", "status": "%s"}`, operation, status)
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/thinking/"+scopeID+"/steps", body)
	if err != nil {
		t.Fatalf("emit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	return parseJSON(t, resp)
}

func TestThinkingEmit_AppendAndGet(t *testing.T) {
	ta := setupApp(t)

	scopeID := uuid.New().String()
	emitStep(t, ta, scopeID, "analyzing_request", "active")
	emitStep(t, ta, scopeID, "generating_code", "pending")

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/thinking/"+scopeID, "")
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	steps := result["steps"].([]interface{})
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if result["isThinking"] != true {
		t.Errorf("expected isThinking true, got %v", result["isThinking"])
	}
}

func TestThinkingEmit_SameOperationReplacesInPlace(t *testing.T) {
	ta := setupApp(t)

	scopeID := uuid.New().String()
	emitStep(t, ta, scopeID, "analyzing_request", "active")
	emitStep(t, ta, scopeID, "analyzing_request", "complete")

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/thinking/"+scopeID, "")
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	steps := result["steps"].([]interface{})
	if len(steps) != 1 {
		t.Fatalf("expected 1 step after in-place update, got %d", len(steps))
	}
	step := steps[0].(map[string]interface{})
	if step["status"] != "complete" {
		t.Errorf("expected status 'complete', got %v", step["status"])
	}
	if result["isThinking"] != false {
		t.Errorf("expected isThinking false, got %v", result["isThinking"])
	}
}

func TestThinkingEmit_ExecutionCompleteSettlesAll(t *testing.T) {
	ta := setupApp(t)

	scopeID := uuid.New().String()
	emitStep(t, ta, scopeID, "analyzing_request", "active")
	emitStep(t, ta, scopeID, "generating_code", "active")
	emitStep(t, ta, scopeID, "execution_complete", "complete")

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/thinking/"+scopeID, "")
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["isThinking"] != false {
		t.Errorf("expected isThinking false after execution_complete, got %v", result["isThinking"])
	}
	for _, s := range result["steps"].([]interface{}) {
		step := s.(map[string]interface{})
		if step["status"] != "complete" {
			t.Errorf("expected every step complete, %v is %v", step["operation"], step["status"])
		}
	}
}

func TestThinkingEmit_InvalidStatus(t *testing.T) {
	ta := setupApp(t)

	scopeID := uuid.New().String()
	body := `{"operation": "analyzing_request", "status": "wondering"}`
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/thinking/"+scopeID+"/steps", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestThinkingClear(t *testing.T) {
	ta := setupApp(t)

	scopeID := uuid.New().String()
	emitStep(t, ta, scopeID, "analyzing_request", "active")

	resp, err := doAuthRequest(t, ta.app, http.MethodDelete, "/api/thinking/"+scopeID, "")
	if err != nil {
		t.Fatalf("clear request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/thinking/"+scopeID, "")
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	steps := result["steps"].([]interface{})
	if len(steps) != 0 {
		t.Errorf("expected no steps after clear, got %d", len(steps))
	}
}
