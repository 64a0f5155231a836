//go:build integration
// +build integration

// Package integration provides end-to-end tests for a running kestrel server.
//
// These tests exercise the complete analysis pipeline over HTTP:
//
//	Event batch → Features → Patterns → Ensemble → Verdict
//
// and the access verification path:
//
//	Access request → Identity/Device/Geo checks → Grant or Deny
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must be running and reachable at KESTREL_TEST_URL
// (default http://localhost:8080). Tests seed their own identities
// and devices through the API and never assume pre-existing state
// beyond an empty or shared database.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

type testConfig struct {
	BaseURL string
}

func getTestConfig() testConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return testConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching kestrel's API contract)
// ============================================================================

type networkEvent struct {
	ID               string  `json:"id"`
	SourceIP         string  `json:"sourceIp"`
	DestIP           string  `json:"destIp"`
	UserID           string  `json:"userId,omitempty"`
	Protocol         string  `json:"protocol"`
	Port             int     `json:"port"`
	PayloadSize      int     `json:"payloadSize"`
	SessionDuration  float64 `json:"sessionDuration"`
	RequestFrequency float64 `json:"requestFrequency"`
	FailedAttempts   int     `json:"failedAttempts"`
	Country          string  `json:"country,omitempty"`
	Timestamp        string  `json:"timestamp"`
}

type analyzeRequest struct {
	Events []networkEvent `json:"events"`
}

type verdict struct {
	ID         string  `json:"id"`
	EventID    string  `json:"eventId"`
	RiskScore  float64 `json:"riskScore"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	ThreatType string  `json:"threatType"`
	Degraded   bool    `json:"degraded"`
}

type analyzeResponse struct {
	Verdicts []verdict `json:"verdicts"`
	Count    int       `json:"count"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

type verifyRequest struct {
	IdentityID        string `json:"identityId"`
	SourceIP          string `json:"sourceIp"`
	Location          string `json:"location,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	Resource          string `json:"resource"`
	RequestType       string `json:"requestType"`
}

type verifyResponse struct {
	Granted      bool     `json:"granted"`
	RiskScore    float64  `json:"riskScore"`
	Method       string   `json:"method"`
	SessionID    string   `json:"sessionId,omitempty"`
	RiskFactors  []string `json:"riskFactors,omitempty"`
	DenialReason string   `json:"denialReason,omitempty"`
}

// ============================================================================
// Helpers
// ============================================================================

func postJSON(t *testing.T, config testConfig, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(config.BaseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, respBody
}

func analyze(t *testing.T, config testConfig, req analyzeRequest) analyzeResponse {
	t.Helper()

	resp, body := postJSON(t, config, "/api/v1/analyze", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(body))
	}

	var result analyzeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ============================================================================
// SCENARIO 1: Benign Traffic (Low Severity)
// ============================================================================

func TestBenignTraffic_LowSeverity(t *testing.T) {
	/*
	   SCENARIO: Ordinary HTTPS office traffic - short session, low request
	   rate, no failed logins, trusted country.

	   EXPECTED: Successfully scored with a verdict per event; no HIGH or
	   CRITICAL severities on traffic with no hostile signals.
	*/
	config := getTestConfig()

	result := analyze(t, config, analyzeRequest{
		Events: []networkEvent{
			{
				ID:               "it-benign-001",
				SourceIP:         "10.0.1.15",
				DestIP:           "10.1.0.20",
				UserID:           "user-001",
				Protocol:         "tcp",
				Port:             443,
				PayloadSize:      1200,
				SessionDuration:  300,
				RequestFrequency: 5,
				FailedAttempts:   0,
				Country:          "US",
				Timestamp:        nowRFC3339(),
			},
		},
	})

	if result.Count != 1 {
		t.Fatalf("Expected 1 verdict, got %d", result.Count)
	}

	v := result.Verdicts[0]
	if v.EventID != "it-benign-001" {
		t.Errorf("Verdict event ID mismatch: %s", v.EventID)
	}
	if v.Severity == "HIGH" || v.Severity == "CRITICAL" {
		t.Errorf("Benign traffic scored %s (risk %.1f)", v.Severity, v.RiskScore)
	}

	t.Logf("✓ Benign event: severity=%s, risk=%.1f", v.Severity, v.RiskScore)
}

// ============================================================================
// SCENARIO 2: Brute Force Pattern (Elevated Severity)
// ============================================================================

func TestBruteForce_Elevated(t *testing.T) {
	/*
	   SCENARIO: SSH traffic with repeated failed logins at a very high
	   request rate from an external address.

	   EXPECTED: Risk score well above the benign baseline. Exact severity
	   depends on ensemble weighting, so the test asserts relative ordering
	   against a benign control event in the same batch.
	*/
	config := getTestConfig()

	result := analyze(t, config, analyzeRequest{
		Events: []networkEvent{
			{
				ID:               "it-bf-control",
				SourceIP:         "10.0.1.15",
				DestIP:           "10.1.0.20",
				Protocol:         "tcp",
				Port:             443,
				PayloadSize:      800,
				SessionDuration:  300,
				RequestFrequency: 4,
				Country:          "US",
				Timestamp:        nowRFC3339(),
			},
			{
				ID:               "it-bf-attack",
				SourceIP:         "203.0.113.50",
				DestIP:           "10.1.0.10",
				Protocol:         "tcp",
				Port:             22,
				PayloadSize:      64,
				SessionDuration:  3,
				RequestFrequency: 450,
				FailedAttempts:   25,
				Country:          "KP",
				Timestamp:        nowRFC3339(),
			},
		},
	})

	if result.Count != 2 {
		t.Fatalf("Expected 2 verdicts, got %d", result.Count)
	}

	byID := map[string]verdict{}
	for _, v := range result.Verdicts {
		byID[v.EventID] = v
	}

	control, attack := byID["it-bf-control"], byID["it-bf-attack"]
	if attack.RiskScore <= control.RiskScore {
		t.Errorf("Attack risk %.1f not above control %.1f", attack.RiskScore, control.RiskScore)
	}

	t.Logf("✓ Brute force: attack risk=%.1f (%s) vs control %.1f (%s)",
		attack.RiskScore, attack.Severity, control.RiskScore, control.Severity)
}

// ============================================================================
// SCENARIO 3: Batch Limits and Validation
// ============================================================================

func TestEmptyBatch_Rejected(t *testing.T) {
	config := getTestConfig()

	resp, body := postJSON(t, config, "/api/v1/analyze", analyzeRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty batch, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Empty batch → HTTP %d", resp.StatusCode)
}

func TestOversizedBatch_Rejected(t *testing.T) {
	config := getTestConfig()

	events := make([]networkEvent, 1001)
	for i := range events {
		events[i] = networkEvent{
			ID:        fmt.Sprintf("it-big-%04d", i),
			SourceIP:  "10.0.0.1",
			DestIP:    "10.0.0.2",
			Protocol:  "tcp",
			Port:      443,
			Timestamp: nowRFC3339(),
		}
	}

	resp, body := postJSON(t, config, "/api/v1/analyze", analyzeRequest{Events: events})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for oversized batch, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Oversized batch → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 4: Access Verification Round Trip
// ============================================================================

func TestVerify_UnknownIdentityDenied(t *testing.T) {
	/*
	   SCENARIO: Access request for an identity that was never registered.

	   EXPECTED: HTTP 200 with granted=false. A denial is a decision, not
	   an error - only malformed requests return 4xx.
	*/
	config := getTestConfig()

	resp, body := postJSON(t, config, "/api/v1/verify", verifyRequest{
		IdentityID:  fmt.Sprintf("it-ghost-%d", time.Now().UnixNano()),
		SourceIP:    "10.0.1.15",
		Location:    "US",
		Resource:    "/reports/q3",
		RequestType: "read",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, string(body))
	}

	var result verifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if result.Granted {
		t.Error("Unknown identity was granted access")
	}
	if result.SessionID != "" {
		t.Error("Denied request should not carry a session")
	}

	t.Logf("✓ Unknown identity denied: risk=%.1f, method=%s", result.RiskScore, result.Method)
}

func TestVerify_MissingFields(t *testing.T) {
	config := getTestConfig()

	resp, body := postJSON(t, config, "/api/v1/verify", verifyRequest{
		SourceIP:    "10.0.1.15",
		Resource:    "/reports/q3",
		RequestType: "read",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing identityId, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Missing identityId → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 5: Behavior Profile Round Trip
// ============================================================================

func TestActivity_BuildsProfile(t *testing.T) {
	/*
	   SCENARIO: Record a user activity and fetch the resulting risk
	   profile through the API.
	*/
	config := getTestConfig()
	identity := fmt.Sprintf("it-user-%d", time.Now().UnixNano())

	resp, body := postJSON(t, config, "/api/v1/activity", map[string]any{
		"id":              "it-act-001",
		"identityId":      identity,
		"action":          "read",
		"resource":        "/docs/handbook",
		"sourceIp":        "10.0.1.15",
		"location":        "US",
		"success":         true,
		"dataVolume":      2048,
		"sessionDuration": 600,
		"clickRate":       12,
		"keystrokeRate":   40,
		"appCount":        2,
		"timestamp":       nowRFC3339(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Activity returned %d: %s", resp.StatusCode, string(body))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	getResp, err := client.Get(config.BaseURL + "/api/v1/profiles/" + identity)
	if err != nil {
		t.Fatalf("Profile request failed: %v", err)
	}
	defer getResp.Body.Close()

	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for profile, got %d", getResp.StatusCode)
	}

	var profile struct {
		IdentityID  string  `json:"identityId"`
		OverallRisk float64 `json:"overallRisk"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&profile); err != nil {
		t.Fatalf("Failed to decode profile: %v", err)
	}
	if profile.IdentityID != identity {
		t.Errorf("Profile identity mismatch: %s", profile.IdentityID)
	}

	t.Logf("✓ Profile built: identity=%s, risk=%.1f", profile.IdentityID, profile.OverallRisk)
}

// ============================================================================
// SCENARIO 6: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify responses include the metadata the API contract
	   promises to clients: trace ID, timing, and server version.
	*/
	config := getTestConfig()

	result := analyze(t, config, analyzeRequest{
		Events: []networkEvent{
			{
				ID:        "it-meta-001",
				SourceIP:  "10.0.1.15",
				DestIP:    "10.1.0.20",
				Protocol:  "tcp",
				Port:      443,
				Timestamp: nowRFC3339(),
			},
		},
	})

	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}
	if result.Metadata.Version == "" {
		t.Error("Missing metadata.version")
	}
	// TotalMs can be 0 for sub-millisecond batches
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	for _, v := range result.Verdicts {
		if v.ID == "" {
			t.Error("Verdict missing ID")
		}
		if v.RiskScore < 0 || v.RiskScore > 100 {
			t.Errorf("Risk score out of range: %.2f", v.RiskScore)
		}
	}

	t.Logf("✓ Metadata complete: traceId=%s, version=%s, totalMs=%d",
		result.Metadata.TraceID, result.Metadata.Version, result.Metadata.TotalMs)
}
