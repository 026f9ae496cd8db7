package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ObjectivePipe/internal/defcache"
	"github.com/BTreeMap/ObjectivePipe/internal/engine"
	"github.com/BTreeMap/ObjectivePipe/internal/messaging"
	"github.com/BTreeMap/ObjectivePipe/internal/models"
	"github.com/BTreeMap/ObjectivePipe/internal/store"
	"github.com/BTreeMap/ObjectivePipe/internal/twiliosms"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store, *twiliosms.MockClient) {
	t.Helper()
	s := store.NewInMemoryStore()
	if err := store.Seed(s); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	cache := defcache.New(s, nil)
	eng := engine.NewEngine(cache)
	mock := twiliosms.NewMockClient()
	msgService := messaging.NewTwilioService(mock)
	t.Cleanup(func() { msgService.Stop() })
	respHandler := messaging.NewResponseHandler(msgService, s, eng)

	server := NewServer(s, cache, msgService, respHandler)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, s, mock
}

func decodeEnvelope(t *testing.T, resp *http.Response) models.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var envelope models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response envelope: %v", err)
	}
	return envelope
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func enrollConversation(t *testing.T, ts *httptest.Server, recipient string) models.Conversation {
	t.Helper()
	resp := postJSON(t, ts.URL+"/conversations", models.ConversationEnrollmentRequest{Recipient: recipient})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp)

	raw, err := json.Marshal(envelope.Result)
	if err != nil {
		t.Fatalf("failed to re-marshal result: %v", err)
	}
	var conversation models.Conversation
	if err := json.Unmarshal(raw, &conversation); err != nil {
		t.Fatalf("failed to decode conversation: %v", err)
	}
	return conversation
}

func TestEnrollConversation(t *testing.T) {
	ts, s, mock := newTestServer(t)

	conversation := enrollConversation(t, ts, "+1 (555) 123-4567")
	if conversation.Recipient != "15551234567" {
		t.Errorf("expected canonical recipient, got %q", conversation.Recipient)
	}
	if conversation.TreeID != store.DefaultTreeID {
		t.Errorf("expected default tree, got %q", conversation.TreeID)
	}
	if conversation.CurrentObjectiveID != "welcome" {
		t.Errorf("expected starting objective welcome, got %q", conversation.CurrentObjectiveID)
	}

	st, err := s.GetConversationState(conversation.ID)
	if err != nil {
		t.Fatalf("GetConversationState failed: %v", err)
	}
	if st == nil {
		t.Fatal("expected initialized conversation state")
	}

	// Enrollment sends the greeting immediately.
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected greeting message, got %d messages", len(mock.SentMessages))
	}
}

func TestEnrollConversationConflict(t *testing.T) {
	ts, _, _ := newTestServer(t)
	enrollConversation(t, ts, "15551234567")

	resp := postJSON(t, ts.URL+"/conversations", models.ConversationEnrollmentRequest{Recipient: "15551234567"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate enrollment, got %d", resp.StatusCode)
	}
}

func TestEnrollConversationValidation(t *testing.T) {
	ts, _, _ := newTestServer(t)

	tests := []struct {
		name string
		req  models.ConversationEnrollmentRequest
		want int
	}{
		{"missing recipient", models.ConversationEnrollmentRequest{}, http.StatusBadRequest},
		{"unknown tree", models.ConversationEnrollmentRequest{Recipient: "15551234567", TreeID: "nope"}, http.StatusBadRequest},
		{"unknown objective", models.ConversationEnrollmentRequest{Recipient: "15551234567", ObjectiveID: "nope"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/conversations", tt.req)
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestConversationMessageTurn(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conversation := enrollConversation(t, ts, "15551234567")

	// Move the conversation to get_name so a single confident answer
	// completes the objective.
	url := fmt.Sprintf("%s/conversations/%s/messages", ts.URL, conversation.ID)
	resp := postJSON(t, url, models.ConversationMessageRequest{Message: "hi, I'm a student"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp)

	raw, err := json.Marshal(envelope.Result)
	if err != nil {
		t.Fatalf("failed to re-marshal result: %v", err)
	}
	var result models.ConversationTurnResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to decode turn result: %v", err)
	}
	if result.ConversationID != conversation.ID {
		t.Errorf("unexpected conversation id: %q", result.ConversationID)
	}
	if result.Evaluation.ObjectiveID != "welcome" {
		t.Errorf("expected evaluation for welcome, got %q", result.Evaluation.ObjectiveID)
	}
	if result.Reply == "" {
		t.Error("expected a reply")
	}
}

func TestConversationMessageNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/conversations/c_missing/messages", models.ConversationMessageRequest{Message: "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestConversationMessageEmptyBody(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conversation := enrollConversation(t, ts, "15551234567")

	url := fmt.Sprintf("%s/conversations/%s/messages", ts.URL, conversation.ID)
	resp := postJSON(t, url, models.ConversationMessageRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty message, got %d", resp.StatusCode)
	}
}

func TestGetConversation(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conversation := enrollConversation(t, ts, "15551234567")

	resp, err := http.Get(ts.URL + "/conversations/" + conversation.ID)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp)
	if envelope.Status != "ok" {
		t.Errorf("expected ok status, got %q", envelope.Status)
	}

	missing, err := http.Get(ts.URL + "/conversations/c_missing")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown conversation, got %d", missing.StatusCode)
	}
}

func TestConversationEvaluations(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conversation := enrollConversation(t, ts, "15551234567")

	url := fmt.Sprintf("%s/conversations/%s/messages", ts.URL, conversation.ID)
	resp := postJSON(t, url, models.ConversationMessageRequest{Message: "feeling stuck honestly"})
	resp.Body.Close()

	evals, err := http.Get(fmt.Sprintf("%s/conversations/%s/evaluations", ts.URL, conversation.ID))
	if err != nil {
		t.Fatalf("GET evaluations failed: %v", err)
	}
	if evals.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", evals.StatusCode)
	}
	envelope := decodeEnvelope(t, evals)

	raw, err := json.Marshal(envelope.Result)
	if err != nil {
		t.Fatalf("failed to re-marshal result: %v", err)
	}
	var recs []models.EvaluationRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		t.Fatalf("failed to decode evaluations: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 evaluation record, got %d", len(recs))
	}
}

func TestObjectiveEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/objectives")
	if err != nil {
		t.Fatalf("GET objectives failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	created := postJSON(t, ts.URL+"/objectives", models.Objective{
		ID:               "custom_stage",
		DataPoints:       []string{"favoriteTool"},
		AverageExchanges: 2,
		SuccessRate:      75,
	})
	defer created.Body.Close()
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", created.StatusCode)
	}

	fetched, err := http.Get(ts.URL + "/objectives/custom_stage")
	if err != nil {
		t.Fatalf("GET objective failed: %v", err)
	}
	defer fetched.Body.Close()
	if fetched.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", fetched.StatusCode)
	}

	invalid := postJSON(t, ts.URL+"/objectives", models.Objective{ID: "bad", SuccessRate: 150})
	defer invalid.Body.Close()
	if invalid.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid objective, got %d", invalid.StatusCode)
	}
}

func TestTreeEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/trees/" + store.DefaultTreeID)
	if err != nil {
		t.Fatalf("GET tree failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	created := postJSON(t, ts.URL+"/trees", models.ConversationTree{
		ID: "short_intake",
		Routing: map[string]models.TreeRoute{
			"welcome": {Success: "wrap_up"},
		},
	})
	defer created.Body.Close()
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", created.StatusCode)
	}

	missing, err := http.Get(ts.URL + "/trees/nope")
	if err != nil {
		t.Fatalf("GET tree failed: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown tree, got %d", missing.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var healthData map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&healthData); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if healthData["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", healthData["status"])
	}
}
