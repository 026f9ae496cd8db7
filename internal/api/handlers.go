// Package api provides HTTP handlers for ObjectivePipe endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
	"github.com/BTreeMap/ObjectivePipe/internal/store"
	"github.com/BTreeMap/ObjectivePipe/internal/util"
)

// conversationsHandler dispatches /conversations requests by path shape:
// /conversations, /conversations/{id}, /conversations/{id}/messages, and
// /conversations/{id}/evaluations.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("conversationsHandler invoked", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/conversations")
	path = strings.TrimPrefix(path, "/")
	segments := strings.Split(path, "/")

	if len(segments) == 0 || segments[0] == "" {
		// /conversations
		switch r.Method {
		case http.MethodPost:
			s.enrollConversationHandler(w, r)
		case http.MethodGet:
			s.listConversationsHandler(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	conversationID := segments[0]

	if len(segments) == 1 {
		// /conversations/{id}
		switch r.Method {
		case http.MethodGet:
			s.getConversationHandler(w, r, conversationID)
		default:
			w.Header().Set("Allow", "GET")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	if len(segments) == 2 {
		switch segments[1] {
		case "messages":
			// /conversations/{id}/messages
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", "POST")
				writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
				return
			}
			s.conversationMessageHandler(w, r, conversationID)
			return
		case "evaluations":
			// /conversations/{id}/evaluations
			if r.Method != http.MethodGet {
				w.Header().Set("Allow", "GET")
				writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
				return
			}
			s.conversationEvaluationsHandler(w, r, conversationID)
			return
		}
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversation endpoint"))
}

// enrollConversationHandler handles POST /conversations.
func (s *Server) enrollConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var req models.ConversationEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("enrollConversationHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("enrollConversationHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	canonicalRecipient, err := s.msgService.ValidateAndCanonicalizeRecipient(req.Recipient)
	if err != nil {
		slog.Warn("enrollConversationHandler recipient validation failed", "error", err, "recipient", req.Recipient)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid recipient: "+err.Error()))
		return
	}

	existing, err := s.st.GetConversationByRecipient(canonicalRecipient)
	if err != nil {
		slog.Error("enrollConversationHandler check existing failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to check existing conversation"))
		return
	}
	if existing != nil {
		slog.Warn("enrollConversationHandler recipient already enrolled", "recipient", canonicalRecipient, "id", existing.ID)
		writeJSONResponse(w, http.StatusConflict, models.Error("Recipient already enrolled in a conversation"))
		return
	}

	treeID := req.TreeID
	if treeID == "" {
		treeID = store.DefaultTreeID
	}
	tree, err := s.st.GetTree(treeID)
	if err != nil {
		slog.Error("enrollConversationHandler tree lookup failed", "error", err, "treeID", treeID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up tree"))
		return
	}
	if tree == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown tree: "+treeID))
		return
	}

	objectiveID := req.ObjectiveID
	if objectiveID == "" {
		objectiveID = models.DefaultObjectiveOrder[0]
	}
	objective, err := s.st.GetObjective(objectiveID)
	if err != nil {
		slog.Error("enrollConversationHandler objective lookup failed", "error", err, "objectiveID", objectiveID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up objective"))
		return
	}
	if objective == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown objective: "+objectiveID))
		return
	}

	now := time.Now()
	conversation := models.Conversation{
		ID:                 util.GenerateConversationID(),
		Recipient:          canonicalRecipient,
		TreeID:             treeID,
		CurrentObjectiveID: objectiveID,
		Status:             models.ConversationStatusActive,
		EnrolledAt:         now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.st.SaveConversation(conversation); err != nil {
		slog.Error("enrollConversationHandler save failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to enroll conversation"))
		return
	}
	if err := s.st.SaveConversationState(*models.NewConversationState(conversation.ID, treeID)); err != nil {
		slog.Error("enrollConversationHandler state init failed", "error", err, "conversationID", conversation.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to initialize conversation state"))
		return
	}

	// Greet the recipient right away; enrollment still succeeds if the
	// send fails.
	greeting := "Hi! I'm here to help you explore career directions. How are you feeling about things right now?"
	if err := s.msgService.SendMessage(context.Background(), canonicalRecipient, greeting); err != nil {
		slog.Error("enrollConversationHandler greeting send failed", "error", err, "conversationID", conversation.ID)
	}

	slog.Info("Conversation enrolled successfully", "id", conversation.ID, "recipient", canonicalRecipient, "treeID", treeID, "objectiveID", objectiveID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Conversation enrolled successfully", conversation))
}

// listConversationsHandler handles GET /conversations.
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.st.ListConversations()
	if err != nil {
		slog.Error("listConversationsHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}
	slog.Debug("listConversationsHandler succeeded", "count", len(conversations))
	writeJSONResponse(w, http.StatusOK, models.Success(conversations))
}

// getConversationHandler handles GET /conversations/{id}.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conversation, err := s.st.GetConversation(conversationID)
	if err != nil {
		slog.Error("getConversationHandler failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get conversation"))
		return
	}
	if conversation == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	st, err := s.st.GetConversationState(conversationID)
	if err != nil {
		slog.Error("getConversationHandler state load failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation state"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"conversation": conversation,
		"state":        st,
	}))
}

// conversationMessageHandler handles POST /conversations/{id}/messages: it
// runs one evaluation turn and returns the evaluation, the transition
// decision, and the assistant's reply.
func (s *Server) conversationMessageHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var req models.ConversationMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("conversationMessageHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("conversationMessageHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	conversation, err := s.st.GetConversation(conversationID)
	if err != nil {
		slog.Error("conversationMessageHandler lookup failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get conversation"))
		return
	}
	if conversation == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	if conversation.Status != models.ConversationStatusActive {
		writeJSONResponse(w, http.StatusConflict, models.Error("Conversation is not active"))
		return
	}

	result, err := s.respHandler.ProcessTurn(r.Context(), conversation, req.Message)
	if err != nil {
		slog.Error("conversationMessageHandler turn failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Info("Conversation turn processed",
		"conversationID", conversationID,
		"objectiveID", result.ObjectiveID,
		"isComplete", result.Evaluation.IsComplete,
		"transitioned", result.Decision.ShouldTransition)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// conversationEvaluationsHandler handles GET /conversations/{id}/evaluations.
func (s *Server) conversationEvaluationsHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conversation, err := s.st.GetConversation(conversationID)
	if err != nil {
		slog.Error("conversationEvaluationsHandler lookup failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get conversation"))
		return
	}
	if conversation == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	recs, err := s.st.GetEvaluations(conversationID)
	if err != nil {
		slog.Error("conversationEvaluationsHandler failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch evaluations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(recs))
}

// objectivesHandler dispatches /objectives requests.
func (s *Server) objectivesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("objectivesHandler invoked", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/objectives")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			s.listObjectivesHandler(w, r)
		case http.MethodPost:
			s.saveObjectiveHandler(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	s.getObjectiveHandler(w, r, path)
}

// listObjectivesHandler handles GET /objectives.
func (s *Server) listObjectivesHandler(w http.ResponseWriter, r *http.Request) {
	objectives, err := s.st.ListObjectives()
	if err != nil {
		slog.Error("listObjectivesHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list objectives"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(objectives))
}

// getObjectiveHandler handles GET /objectives/{id}.
func (s *Server) getObjectiveHandler(w http.ResponseWriter, r *http.Request, objectiveID string) {
	objective, err := s.st.GetObjective(objectiveID)
	if err != nil {
		slog.Error("getObjectiveHandler failed", "error", err, "objectiveID", objectiveID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get objective"))
		return
	}
	if objective == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Objective not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(objective))
}

// saveObjectiveHandler handles POST /objectives: create or replace an
// objective definition.
func (s *Server) saveObjectiveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var objective models.Objective
	if err := json.NewDecoder(r.Body).Decode(&objective); err != nil {
		slog.Warn("saveObjectiveHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := objective.Validate(); err != nil {
		slog.Warn("saveObjectiveHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveObjective(objective); err != nil {
		slog.Error("saveObjectiveHandler save failed", "error", err, "objectiveID", objective.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save objective"))
		return
	}
	if s.cache != nil {
		s.cache.InvalidateObjective(r.Context(), objective.ID)
	}

	slog.Info("Objective saved", "id", objective.ID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Objective saved successfully", objective))
}

// treesHandler dispatches /trees requests.
func (s *Server) treesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("treesHandler invoked", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/trees")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		s.saveTreeHandler(w, r)
		return
	}

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	s.getTreeHandler(w, r, path)
}

// getTreeHandler handles GET /trees/{id}.
func (s *Server) getTreeHandler(w http.ResponseWriter, r *http.Request, treeID string) {
	tree, err := s.st.GetTree(treeID)
	if err != nil {
		slog.Error("getTreeHandler failed", "error", err, "treeID", treeID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get tree"))
		return
	}
	if tree == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Tree not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tree))
}

// saveTreeHandler handles POST /trees: create or replace a tree definition.
func (s *Server) saveTreeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var tree models.ConversationTree
	if err := json.NewDecoder(r.Body).Decode(&tree); err != nil {
		slog.Warn("saveTreeHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := tree.Validate(); err != nil {
		slog.Warn("saveTreeHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveTree(tree); err != nil {
		slog.Error("saveTreeHandler save failed", "error", err, "treeID", tree.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save tree"))
		return
	}
	if s.cache != nil {
		s.cache.InvalidateTree(r.Context(), tree.ID)
	}

	slog.Info("Tree saved", "id", tree.ID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Tree saved successfully", tree))
}

// healthHandler provides a health check endpoint for monitoring and load
// balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if conversations, err := s.st.ListConversations(); err != nil {
		slog.Warn("Health check: failed to list conversations", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to fetch conversation metrics"
	} else {
		active := 0
		for _, c := range conversations {
			if c.Status == models.ConversationStatusActive {
				active++
			}
		}
		healthData["active_conversations"] = active
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}
