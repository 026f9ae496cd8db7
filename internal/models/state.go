// Package models defines conversation state structures for ObjectivePipe.
package models

import "time"

// MaxHistoryMessages bounds the conversation history retained in state.
const MaxHistoryMessages = 50

// ConversationMessage represents a single message in the conversation history.
type ConversationMessage struct {
	Role      string    `json:"role"`      // "user" or "assistant"
	Content   string    `json:"content"`   // message content
	Timestamp time.Time `json:"timestamp"` // when the message was sent
}

// ConversationState is the per-conversation accumulator of collected facts.
// It is created at conversation start, mutated exclusively by the evaluation
// orchestrator, and archived when the conversation ends. Callers must
// serialize evaluations per conversation id; states for different
// conversations share nothing.
type ConversationState struct {
	ConversationID string `json:"conversation_id"`
	// CurrentTreeID names the active conversation tree for this session.
	CurrentTreeID string `json:"current_tree_id"`
	// DataCollected maps data-point id to the extracted value. Values may be
	// scalars or lists. Keys always reference data points of some objective
	// in the active tree.
	DataCollected map[string]any `json:"data_collected"`
	// ConfidenceScores mirrors DataCollected keys 1:1; confidence is never
	// attached to a point without evidence.
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	// ExchangeCount increments exactly once per evaluated user utterance.
	ExchangeCount int `json:"exchange_count"`
	// ConversationHistory holds the most recent messages, bounded by
	// MaxHistoryMessages.
	ConversationHistory []ConversationMessage `json:"conversation_history"`
	// UserPersona is an optional classification label set by the persona
	// collaborator, consumed only by persona-type conditions.
	UserPersona     string    `json:"user_persona,omitempty"`
	LastUserMessage string    `json:"last_user_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewConversationState creates an empty state bound to a conversation and tree.
func NewConversationState(conversationID, treeID string) *ConversationState {
	now := time.Now()
	return &ConversationState{
		ConversationID:   conversationID,
		CurrentTreeID:    treeID,
		DataCollected:    make(map[string]any),
		ConfidenceScores: make(map[string]float64),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// AppendMessage adds a message to the history, trimming the oldest entries
// beyond MaxHistoryMessages.
func (s *ConversationState) AppendMessage(role, content string) {
	s.ConversationHistory = append(s.ConversationHistory, ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(s.ConversationHistory) > MaxHistoryMessages {
		s.ConversationHistory = s.ConversationHistory[len(s.ConversationHistory)-MaxHistoryMessages:]
	}
	s.UpdatedAt = time.Now()
}

// CollectedCount returns how many of the given data points have a non-nil
// collected value.
func (s *ConversationState) CollectedCount(dataPoints []string) int {
	count := 0
	for _, dp := range dataPoints {
		if val, ok := s.DataCollected[dp]; ok && val != nil {
			count++
		}
	}
	return count
}
