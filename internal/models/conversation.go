// Package models defines conversation session records and API request types.
package models

import "time"

// ConversationStatus represents the lifecycle status of a conversation.
type ConversationStatus string

// Conversation status constants.
const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusPaused   ConversationStatus = "paused"
	ConversationStatusComplete ConversationStatus = "complete"
)

// Conversation is one enrolled conversation session. The current objective
// pointer is owned here, by the caller side of the engine; the engine itself
// never stores it.
type Conversation struct {
	ID                 string             `json:"id"`
	Recipient          string             `json:"recipient"`
	TreeID             string             `json:"tree_id"`
	CurrentObjectiveID string             `json:"current_objective_id"`
	Status             ConversationStatus `json:"status"`
	EnrolledAt         time.Time          `json:"enrolled_at"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// ConversationEnrollmentRequest is the payload for enrolling a conversation.
type ConversationEnrollmentRequest struct {
	Recipient string `json:"recipient"`
	// TreeID selects the conversation tree; empty selects the default tree.
	TreeID string `json:"tree_id,omitempty"`
	// ObjectiveID selects the starting objective; empty selects the first
	// objective of the default ordering.
	ObjectiveID string `json:"objective_id,omitempty"`
}

// Validate checks the enrollment request fields.
func (r *ConversationEnrollmentRequest) Validate() error {
	if r.Recipient == "" {
		return ErrEmptyRecipient
	}
	return nil
}

// ConversationMessageRequest is the payload for posting an inbound utterance.
type ConversationMessageRequest struct {
	Message string `json:"message"`
}

// Validate checks the message request fields.
func (r *ConversationMessageRequest) Validate() error {
	if r.Message == "" {
		return ErrEmptyUtterance
	}
	return nil
}

// ConversationTurnResult is what the API returns for one processed turn.
type ConversationTurnResult struct {
	ConversationID string              `json:"conversation_id"`
	ObjectiveID    string              `json:"objective_id"`
	Evaluation     ObjectiveEvaluation `json:"evaluation"`
	Decision       TransitionDecision  `json:"decision"`
	Reply          string              `json:"reply,omitempty"`
}

// Receipt records a message delivery event.
type Receipt struct {
	To     string `json:"to"`
	Status string `json:"status"`
	Time   int64  `json:"time"`
}

// Message status constants for receipts.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusFailed    = "failed"
)

// Response records an incoming participant message.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
