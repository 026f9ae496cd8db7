// Package models defines evaluation output structures for ObjectivePipe.
package models

import "time"

// ObjectiveEvaluation is the engine's per-turn verdict on an objective. It
// is produced fresh for every utterance and never persisted as authoritative
// state; ConversationState remains the source of truth.
type ObjectiveEvaluation struct {
	ObjectiveID string `json:"objective_id"`
	IsComplete  bool   `json:"is_complete"`
	// Confidence is the mean confidence over collected required points, in [0,1].
	Confidence float64 `json:"confidence"`
	// MissingData lists required points absent from DataCollected or nil.
	MissingData       []string          `json:"missing_data"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	NextObjectiveID   string            `json:"next_objective_id,omitempty"`
	// Reasoning summarizes which gates blocked completion, for telemetry.
	Reasoning   string  `json:"reasoning"`
	DataQuality float64 `json:"data_quality"`
}

// TransitionDecision says whether and where the conversation should move.
type TransitionDecision struct {
	ShouldTransition  bool    `json:"should_transition"`
	TargetObjectiveID string  `json:"target_objective_id,omitempty"`
	Reason            string  `json:"reason"`
	Confidence        float64 `json:"confidence"`
	// PreserveContext is always true: conversation memory is never discarded
	// across a transition, only the active objective pointer changes.
	PreserveContext bool `json:"preserve_context"`
}

// EvaluationRecord is one row of evaluation telemetry written after each
// processed turn.
type EvaluationRecord struct {
	ID                string            `json:"id"`
	ConversationID    string            `json:"conversation_id"`
	ObjectiveID       string            `json:"objective_id"`
	ExchangeCount     int               `json:"exchange_count"`
	IsComplete        bool              `json:"is_complete"`
	Confidence        float64           `json:"confidence"`
	DataQuality       float64           `json:"data_quality"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	Reasoning         string            `json:"reasoning"`
	CreatedAt         time.Time         `json:"created_at"`
}
