package e2e

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validConfirmationBody() string {
	return `{
		"changeType": "schema_migration",
		"proposedChanges": "ALTER TABLE users ADD COLUMN avatar_url TEXT;",
		"affectedTables": ["users"]
	}`
}

func TestConfirmationEvaluate_HighRiskType(t *testing.T) {
	ta := setupApp(t)

	body := `{
		"changeType": "table_deletion",
		"proposedChanges": "DROP TABLE old_logs;"
	}`

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/confirmations/evaluate", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["required"] != true {
		t.Errorf("expected required true, got %v", result["required"])
	}
	if result["severity"] != "high" {
		t.Errorf("expected severity 'high', got %v", result["severity"])
	}
	if result["reasoning"] == nil || result["reasoning"] == "" {
		t.Error("expected a reasoning string")
	}
}

func TestConfirmationEvaluate_LowRisk(t *testing.T) {
	ta := setupApp(t)

	body := `{
		"changeType": "style_update",
		"proposedChanges": "Adjust button padding"
	}`

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/confirmations/evaluate", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["required"] != false {
		t.Errorf("expected required false, got %v", result["required"])
	}
	if result["severity"] != "low" {
		t.Errorf("expected severity 'low', got %v", result["severity"])
	}
}

func TestConfirmationEvaluate_DeleteKeywordIsMedium(t *testing.T) {
	ta := setupApp(t)

	body := `{
		"changeType": "remove_component",
		"proposedChanges": "Take out the unused sidebar widget"
	}`

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/confirmations/evaluate", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["required"] != true {
		t.Errorf("expected required true, got %v", result["required"])
	}
	if result["severity"] != "medium" {
		t.Errorf("expected severity 'medium', got %v", result["severity"])
	}
}

func TestConfirmationRequest_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/confirmations/", validConfirmationBody())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	if result["confirmationId"] == nil || result["confirmationId"] == "" {
		t.Error("expected 'confirmationId' in response")
	}
	if result["expiresAt"] == nil {
		t.Error("expected 'expiresAt' in response")
	}
	preview, _ := result["preview"].(string)
	if !strings.Contains(preview, "schema_migration") {
		t.Errorf("expected preview to mention the change type, got %q", preview)
	}
}

func TestConfirmationGet_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/confirmations/", validConfirmationBody())
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	confirmationID := parseJSON(t, resp)["confirmationId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/confirmations/"+confirmationID, "")
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["id"] != confirmationID {
		t.Errorf("expected id %s, got %v", confirmationID, result["id"])
	}
	if result["resolution"] != "pending" {
		t.Errorf("expected resolution 'pending', got %v", result["resolution"])
	}
}

func TestConfirmationGet_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/confirmations/"+uuid.New().String(), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestConfirmationResolve_Approve(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/confirmations/", validConfirmationBody())
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	confirmationID := parseJSON(t, resp)["confirmationId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodPost,
		"/api/confirmations/"+confirmationID+"/resolve", `{"decision": "approved"}`)
	if err != nil {
		t.Fatalf("resolve request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["success"] != true {
		t.Errorf("expected success true, got %v", result["success"])
	}
	if result["resolution"] != "approved" {
		t.Errorf("expected resolution 'approved', got %v", result["resolution"])
	}
}

func TestConfirmationResolve_SecondResolveConflicts(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/confirmations/", validConfirmationBody())
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	confirmationID := parseJSON(t, resp)["confirmationId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodPost,
		"/api/confirmations/"+confirmationID+"/resolve", `{"decision": "rejected"}`)
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	// The second resolution of the same confirmation must lose
	resp, err = doAuthRequest(t, ta.app, http.MethodPost,
		"/api/confirmations/"+confirmationID+"/resolve", `{"decision": "approved"}`)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if errObj["code"] != "ALREADY_RESOLVED" {
		t.Errorf("expected error code ALREADY_RESOLVED, got %v", errObj["code"])
	}
}

func TestConfirmationResolve_AfterExpiryIsGone(t *testing.T) {
	ta := setupAppWithConfirmationTTL(t, time.Millisecond)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/confirmations/", validConfirmationBody())
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	confirmationID := parseJSON(t, resp)["confirmationId"].(string)

	// Let the approval window lapse
	time.Sleep(10 * time.Millisecond)

	// Past the deadline the decision no longer matters, even an approval
	resp, err = doAuthRequest(t, ta.app, http.MethodPost,
		"/api/confirmations/"+confirmationID+"/resolve", `{"decision": "approved"}`)
	if err != nil {
		t.Fatalf("resolve request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusGone)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if errObj["code"] != "EXPIRED" {
		t.Errorf("expected error code EXPIRED, got %v", errObj["code"])
	}

	// The record is settled as expired for later readers
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/confirmations/"+confirmationID, "")
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if got := parseJSON(t, resp)["resolution"]; got != "expired" {
		t.Errorf("expected resolution 'expired', got %v", got)
	}
}

func TestConfirmationResolve_InvalidDecision(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/confirmations/", validConfirmationBody())
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	confirmationID := parseJSON(t, resp)["confirmationId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodPost,
		"/api/confirmations/"+confirmationID+"/resolve", `{"decision": "maybe"}`)
	if err != nil {
		t.Fatalf("resolve request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}
