// Package models defines conversation condition variants for tree routing.
package models

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// ConditionType identifies the state dimension a condition inspects.
type ConditionType string

// Condition type constants.
const (
	ConditionPersona      ConditionType = "persona"
	ConditionMessageCount ConditionType = "messageCount"
	ConditionDataPresent  ConditionType = "dataPresent"
	ConditionConfidence   ConditionType = "confidence"
	ConditionUserInput    ConditionType = "userInput"
)

// ConditionOperator identifies the comparison a condition performs.
type ConditionOperator string

// Condition operator constants.
const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorGreaterThan ConditionOperator = "greaterThan"
	OperatorLessThan    ConditionOperator = "lessThan"
	OperatorExists      ConditionOperator = "exists"
)

// Condition is a pure predicate evaluated against conversation state.
// Each variant carries only the fields it needs. Matching has no side
// effects; unsupported shapes fail closed.
type Condition interface {
	// ConditionType returns the variant's type tag.
	ConditionType() ConditionType
	// Matches evaluates the condition against the given state.
	Matches(st *ConversationState) bool
}

// PersonaCondition matches against the state's user persona label.
type PersonaCondition struct {
	Operator ConditionOperator
	Value    string
}

// ConditionType returns the persona type tag.
func (c PersonaCondition) ConditionType() ConditionType { return ConditionPersona }

// Matches evaluates the persona condition.
func (c PersonaCondition) Matches(st *ConversationState) bool {
	persona := st.UserPersona
	switch c.Operator {
	case OperatorExists:
		return persona != ""
	case OperatorEquals:
		return strings.EqualFold(persona, c.Value)
	case OperatorContains:
		return strings.Contains(strings.ToLower(persona), strings.ToLower(c.Value))
	default:
		return false
	}
}

// MessageCountCondition matches against the state's exchange count.
type MessageCountCondition struct {
	Operator  ConditionOperator
	Threshold int
}

// ConditionType returns the messageCount type tag.
func (c MessageCountCondition) ConditionType() ConditionType { return ConditionMessageCount }

// Matches evaluates the message count condition.
func (c MessageCountCondition) Matches(st *ConversationState) bool {
	switch c.Operator {
	case OperatorGreaterThan:
		return st.ExchangeCount > c.Threshold
	case OperatorLessThan:
		return st.ExchangeCount < c.Threshold
	case OperatorEquals:
		return st.ExchangeCount == c.Threshold
	default:
		return false
	}
}

// DataPresentCondition matches when a data point has been collected, or
// compares its string form when an equals/contains operator is given.
type DataPresentCondition struct {
	Field    string
	Operator ConditionOperator
	Value    string
}

// ConditionType returns the dataPresent type tag.
func (c DataPresentCondition) ConditionType() ConditionType { return ConditionDataPresent }

// Matches evaluates the data presence condition.
func (c DataPresentCondition) Matches(st *ConversationState) bool {
	val, ok := st.DataCollected[c.Field]
	if !ok || val == nil {
		return false
	}
	switch c.Operator {
	case OperatorExists, "":
		return true
	case OperatorEquals:
		return strings.EqualFold(fmt.Sprintf("%v", val), c.Value)
	case OperatorContains:
		return strings.Contains(strings.ToLower(fmt.Sprintf("%v", val)), strings.ToLower(c.Value))
	default:
		return false
	}
}

// ConfidenceCondition compares a data point's confidence score. An empty
// field compares the mean confidence across all collected points.
type ConfidenceCondition struct {
	Field     string
	Operator  ConditionOperator
	Threshold float64
}

// ConditionType returns the confidence type tag.
func (c ConfidenceCondition) ConditionType() ConditionType { return ConditionConfidence }

// Matches evaluates the confidence condition.
func (c ConfidenceCondition) Matches(st *ConversationState) bool {
	var score float64
	if c.Field != "" {
		val, ok := st.ConfidenceScores[c.Field]
		if !ok {
			return false
		}
		score = val
	} else {
		if len(st.ConfidenceScores) == 0 {
			return false
		}
		var sum float64
		for _, v := range st.ConfidenceScores {
			sum += v
		}
		score = sum / float64(len(st.ConfidenceScores))
	}
	switch c.Operator {
	case OperatorGreaterThan:
		return score > c.Threshold
	case OperatorLessThan:
		return score < c.Threshold
	case OperatorEquals:
		return score == c.Threshold
	case OperatorExists:
		return true
	default:
		return false
	}
}

// UserInputCondition matches against the last raw user message.
type UserInputCondition struct {
	Operator ConditionOperator
	Value    string
}

// ConditionType returns the userInput type tag.
func (c UserInputCondition) ConditionType() ConditionType { return ConditionUserInput }

// Matches evaluates the user input condition.
func (c UserInputCondition) Matches(st *ConversationState) bool {
	msg := strings.ToLower(st.LastUserMessage)
	switch c.Operator {
	case OperatorContains:
		return c.Value != "" && strings.Contains(msg, strings.ToLower(c.Value))
	case OperatorEquals:
		return strings.EqualFold(st.LastUserMessage, c.Value)
	case OperatorExists:
		return st.LastUserMessage != ""
	default:
		return false
	}
}

// UnsupportedCondition stands in for a condition whose type was not
// recognized at decode time. It never matches, so unknown shapes in a tree
// definition can never silently route a conversation.
type UnsupportedCondition struct {
	RawType string
}

// ConditionType returns the unrecognized raw type tag.
func (c UnsupportedCondition) ConditionType() ConditionType { return ConditionType(c.RawType) }

// Matches always fails closed.
func (c UnsupportedCondition) Matches(st *ConversationState) bool { return false }

// conditionEnvelope is the wire shape for a condition.
type conditionEnvelope struct {
	Type     ConditionType     `json:"type"`
	Field    string            `json:"field,omitempty"`
	Operator ConditionOperator `json:"operator,omitempty"`
	Value    json.RawMessage   `json:"value,omitempty"`
}

func (e conditionEnvelope) stringValue() string {
	if len(e.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Value, &s); err == nil {
		return s
	}
	return strings.Trim(string(e.Value), `"`)
}

func (e conditionEnvelope) numberValue() float64 {
	if len(e.Value) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(e.Value, &f); err == nil {
		return f
	}
	// Tolerate numbers encoded as strings.
	var s string
	if err := json.Unmarshal(e.Value, &s); err == nil {
		if _, scanErr := fmt.Sscanf(s, "%f", &f); scanErr == nil {
			return f
		}
	}
	return 0
}

// DecodeCondition builds a typed Condition variant from its wire shape.
// Unknown types return ErrUnknownConditionType alongside an
// UnsupportedCondition that fails closed.
func DecodeCondition(data []byte) (Condition, error) {
	var env conditionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return UnsupportedCondition{RawType: "malformed"}, fmt.Errorf("failed to decode condition: %w", err)
	}
	switch env.Type {
	case ConditionPersona:
		return PersonaCondition{Operator: env.Operator, Value: env.stringValue()}, nil
	case ConditionMessageCount:
		return MessageCountCondition{Operator: env.Operator, Threshold: int(env.numberValue())}, nil
	case ConditionDataPresent:
		return DataPresentCondition{Field: env.Field, Operator: env.Operator, Value: env.stringValue()}, nil
	case ConditionConfidence:
		return ConfidenceCondition{Field: env.Field, Operator: env.Operator, Threshold: env.numberValue()}, nil
	case ConditionUserInput:
		return UserInputCondition{Operator: env.Operator, Value: env.stringValue()}, nil
	default:
		return UnsupportedCondition{RawType: string(env.Type)}, fmt.Errorf("%w: %q", ErrUnknownConditionType, env.Type)
	}
}

// encodeCondition converts a typed Condition back to its wire shape.
func encodeCondition(c Condition) conditionEnvelope {
	switch v := c.(type) {
	case PersonaCondition:
		return conditionEnvelope{Type: ConditionPersona, Operator: v.Operator, Value: marshalValue(v.Value)}
	case MessageCountCondition:
		return conditionEnvelope{Type: ConditionMessageCount, Operator: v.Operator, Value: marshalValue(v.Threshold)}
	case DataPresentCondition:
		return conditionEnvelope{Type: ConditionDataPresent, Field: v.Field, Operator: v.Operator, Value: marshalValue(v.Value)}
	case ConfidenceCondition:
		return conditionEnvelope{Type: ConditionConfidence, Field: v.Field, Operator: v.Operator, Value: marshalValue(v.Threshold)}
	case UserInputCondition:
		return conditionEnvelope{Type: ConditionUserInput, Operator: v.Operator, Value: marshalValue(v.Value)}
	default:
		return conditionEnvelope{Type: c.ConditionType()}
	}
}

func marshalValue(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// ConditionList is a JSON-round-trippable slice of Condition variants.
type ConditionList []Condition

// UnmarshalJSON decodes each condition element, substituting a fail-closed
// UnsupportedCondition for unknown types with a logged warning.
func (l *ConditionList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode condition list: %w", err)
	}
	out := make(ConditionList, 0, len(raw))
	for _, entry := range raw {
		cond, err := DecodeCondition(entry)
		if err != nil {
			slog.Warn("ConditionList: unsupported condition, will never match", "error", err)
		}
		out = append(out, cond)
	}
	*l = out
	return nil
}

// MarshalJSON encodes each condition in its wire shape.
func (l ConditionList) MarshalJSON() ([]byte, error) {
	envs := make([]conditionEnvelope, 0, len(l))
	for _, c := range l {
		envs = append(envs, encodeCondition(c))
	}
	return json.Marshal(envs)
}

// AnyMatches reports whether at least one condition in the list matches the
// state. An empty list matches unconditionally.
func (l ConditionList) AnyMatches(st *ConversationState) bool {
	if len(l) == 0 {
		return true
	}
	for _, c := range l {
		if c.Matches(st) {
			return true
		}
	}
	return false
}
