// Package models defines the core data structures for ObjectivePipe.
//
// It includes objective and conversation tree definitions, conversation
// state, and the evaluation outputs shared across modules.
package models

import (
	"errors"
)

// RecommendedAction describes what the engine suggests the caller do next.
type RecommendedAction string

const (
	// ActionContinue keeps working on the current objective.
	ActionContinue RecommendedAction = "continue"
	// ActionTransition advances to the next objective in the tree.
	ActionTransition RecommendedAction = "transition"
	// ActionRepeat retries the current objective from a different angle.
	ActionRepeat RecommendedAction = "repeat"
	// ActionEscalate forces progress on a stuck objective.
	ActionEscalate RecommendedAction = "escalate"
)

// Validation constants for definition fields.
const (
	// MaxDataPointsPerObjective defines the maximum number of required data points per objective
	MaxDataPointsPerObjective = 20
	// MaxObjectiveIDLength defines the maximum allowed length for an objective identifier
	MaxObjectiveIDLength = 64
)

// Error variables for better error handling and testability
var (
	ErrEmptyObjectiveID     = errors.New("objective id cannot be empty")
	ErrObjectiveIDTooLong   = errors.New("objective id exceeds maximum length")
	ErrTooManyDataPoints    = errors.New("objective declares too many data points")
	ErrInvalidSuccessRate   = errors.New("success rate must be between 0 and 100")
	ErrNegativeExchanges    = errors.New("average exchange count cannot be negative")
	ErrEmptyTreeID          = errors.New("tree id cannot be empty")
	ErrEmptyConversationID  = errors.New("conversation id cannot be empty")
	ErrEmptyRecipient       = errors.New("recipient cannot be empty")
	ErrEmptyUtterance       = errors.New("utterance cannot be empty")
	ErrUnknownConditionType = errors.New("unknown condition type")
)

// ObjectiveTransitions names the declared transition targets of an objective.
type ObjectiveTransitions struct {
	OnSuccess string `json:"onSuccess,omitempty"`
}

// Objective is one discrete conversational sub-goal with defined completion
// criteria. Objectives are immutable once loaded from the definition store.
type Objective struct {
	ID string `json:"id"`
	// DataPoints lists the required data-point identifiers, in order.
	DataPoints []string `json:"dataPoints"`
	// AverageExchanges is the expected/minimum exchange count for completion.
	AverageExchanges int `json:"averageExchanges"`
	// SuccessRate is the success-confidence threshold as a percentage (0-100).
	SuccessRate float64              `json:"successRate"`
	Transitions ObjectiveTransitions `json:"transitions"`
}

// SuccessThreshold returns the objective's confidence threshold in [0,1].
func (o *Objective) SuccessThreshold() float64 {
	return o.SuccessRate / 100.0
}

// Validate performs validation on an Objective definition.
func (o *Objective) Validate() error {
	if o.ID == "" {
		return ErrEmptyObjectiveID
	}
	if len(o.ID) > MaxObjectiveIDLength {
		return ErrObjectiveIDTooLong
	}
	if len(o.DataPoints) > MaxDataPointsPerObjective {
		return ErrTooManyDataPoints
	}
	if o.SuccessRate < 0 || o.SuccessRate > 100 {
		return ErrInvalidSuccessRate
	}
	if o.AverageExchanges < 0 {
		return ErrNegativeExchanges
	}
	return nil
}

// TreeRoute is the canonical routing entry for one objective in a tree.
type TreeRoute struct {
	Success    string        `json:"success"`
	Conditions ConditionList `json:"conditions,omitempty"`
}

// TreeTransition is one entry of the explicit transitions list. The list is
// accepted as an import shape and consulted before the routing map.
type TreeTransition struct {
	From       string        `json:"from"`
	To         string        `json:"to"`
	Conditions ConditionList `json:"conditions,omitempty"`
}

// ConversationTree is a named directed graph of objectives. The routing map
// is the canonical shape; the transitions list is honored first when present
// so partially specified deployments keep working. Immutable once loaded.
type ConversationTree struct {
	ID          string               `json:"id"`
	Routing     map[string]TreeRoute `json:"routing,omitempty"`
	Transitions []TreeTransition     `json:"transitions,omitempty"`
}

// Validate performs validation on a ConversationTree definition.
func (t *ConversationTree) Validate() error {
	if t.ID == "" {
		return ErrEmptyTreeID
	}
	return nil
}

// KnownObjectiveIDs returns the set of objective ids referenced anywhere in
// the tree (routing keys, routing targets, transition endpoints).
func (t *ConversationTree) KnownObjectiveIDs() map[string]bool {
	known := make(map[string]bool)
	for from, route := range t.Routing {
		known[from] = true
		if route.Success != "" {
			known[route.Success] = true
		}
	}
	for _, tr := range t.Transitions {
		if tr.From != "" {
			known[tr.From] = true
		}
		if tr.To != "" {
			known[tr.To] = true
		}
	}
	return known
}

// DefaultObjectiveOrder is the fixed linear ordering of the built-in
// objectives, used by the transition resolver as its last-resort fallback.
var DefaultObjectiveOrder = []string{
	"welcome",
	"get_name",
	"discover_interests",
	"assess_skills",
	"explore_goals",
	"recommend_path",
	"wrap_up",
}

// APIResponse is the standard JSON envelope returned by API handlers.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success builds a success envelope carrying a result payload.
func Success(result any) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// SuccessWithMessage builds a success envelope with a human-readable message.
func SuccessWithMessage(message string, result any) APIResponse {
	return APIResponse{Status: "ok", Message: message, Result: result}
}

// Error builds an error envelope carrying a message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}
