// Package engine provides the completion evaluator for objectives.
package engine

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
)

// Completion model constants.
const (
	// MinDataQuality is the fixed quality floor every completion must clear.
	MinDataQuality = 0.4
	// ShortCircuitConfidence allows a single-data-point objective to
	// complete in one exchange when the point is collected this confidently.
	ShortCircuitConfidence = 0.7
	// EscalateExchangeFactor multiplies the expected exchange count; beyond
	// it the objective is considered stuck.
	EscalateExchangeFactor = 1.5
	// RepeatConfidenceThreshold is the confidence below which the engine
	// recommends trying a different angle.
	RepeatConfidenceThreshold = 0.3
	// RepeatMinExchanges is the minimum exchange count before a repeat is
	// recommended.
	RepeatMinExchanges = 3

	// Quality scoring heuristics.
	qualityListDenominator = 3.0
	qualityStringLongScore = 0.8
	qualityStringShort     = 0.5
	qualityStringMinLength = 3
	qualityOtherValue      = 0.6
)

// CompletionResult holds the evaluator's three scores plus the completion
// verdict and recommended action.
type CompletionResult struct {
	// CompletionRatio is collected required points over total required
	// points, in [0,1].
	CompletionRatio float64
	// Confidence is the mean confidence over collected required points; it
	// is 0 exactly when none are collected.
	Confidence float64
	// DataQuality averages the per-point quality heuristic across all
	// collected points, regardless of objective.
	DataQuality       float64
	IsComplete        bool
	RecommendedAction models.RecommendedAction
	// BlockedGates names the completion gates that failed, for reasoning.
	BlockedGates []string
}

// CompletionEvaluator combines an objective definition with conversation
// state to decide whether the objective is satisfied.
type CompletionEvaluator struct {
	minQuality float64
}

// NewCompletionEvaluator creates an evaluator with the default quality floor.
func NewCompletionEvaluator() *CompletionEvaluator {
	return &CompletionEvaluator{minQuality: MinDataQuality}
}

// Evaluate scores the objective against the state. All four gates (exchange
// count, confidence threshold, completion ratio, quality floor) must hold for
// completion; any failing gate keeps the objective open.
func (e *CompletionEvaluator) Evaluate(objective *models.Objective, st *models.ConversationState) CompletionResult {
	res := CompletionResult{
		CompletionRatio: e.completionRatio(objective, st),
		Confidence:      e.aggregateConfidence(objective, st),
		DataQuality:     e.dataQuality(st),
	}

	var blocked []string
	if !e.exchangeGateOpen(objective, st) {
		blocked = append(blocked, fmt.Sprintf("exchange count %d below expected %d", st.ExchangeCount, objective.AverageExchanges))
	}
	if res.Confidence < objective.SuccessThreshold() {
		blocked = append(blocked, fmt.Sprintf("confidence %.2f below threshold %.2f", res.Confidence, objective.SuccessThreshold()))
	}
	if res.CompletionRatio < 1.0 {
		blocked = append(blocked, fmt.Sprintf("data completion %.2f below 1.00", res.CompletionRatio))
	}
	if res.DataQuality < e.minQuality {
		blocked = append(blocked, fmt.Sprintf("data quality %.2f below floor %.2f", res.DataQuality, e.minQuality))
	}
	res.BlockedGates = blocked
	res.IsComplete = len(blocked) == 0
	res.RecommendedAction = e.recommendAction(objective, st, res)
	return res
}

// exchangeGateOpen checks the minimum exchange count, with the single
// data-point short circuit: one confidently collected point completes an
// objective in a single exchange.
func (e *CompletionEvaluator) exchangeGateOpen(objective *models.Objective, st *models.ConversationState) bool {
	if st.ExchangeCount >= objective.AverageExchanges {
		return true
	}
	if len(objective.DataPoints) > 1 {
		return false
	}
	if len(objective.DataPoints) == 0 {
		return st.ExchangeCount >= 1
	}
	dp := objective.DataPoints[0]
	if val, ok := st.DataCollected[dp]; !ok || val == nil {
		return false
	}
	return st.ConfidenceScores[dp] >= ShortCircuitConfidence
}

func (e *CompletionEvaluator) completionRatio(objective *models.Objective, st *models.ConversationState) float64 {
	if len(objective.DataPoints) == 0 {
		return 1.0
	}
	return float64(st.CollectedCount(objective.DataPoints)) / float64(len(objective.DataPoints))
}

// aggregateConfidence averages confidence over collected required points.
// Points without evidence do not drag the mean down; they are already
// accounted for by the completion ratio.
func (e *CompletionEvaluator) aggregateConfidence(objective *models.Objective, st *models.ConversationState) float64 {
	var sum float64
	count := 0
	for _, dp := range objective.DataPoints {
		if val, ok := st.DataCollected[dp]; ok && val != nil {
			sum += st.ConfidenceScores[dp]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// dataQuality scores every collected point regardless of objective: lists by
// normalized length, strings by length, anything else a fixed mid value.
func (e *CompletionEvaluator) dataQuality(st *models.ConversationState) float64 {
	if len(st.DataCollected) == 0 {
		return 0
	}
	var sum float64
	count := 0
	for _, val := range st.DataCollected {
		if val == nil {
			continue
		}
		sum += scoreValue(val)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func scoreValue(val any) float64 {
	switch v := val.(type) {
	case []string:
		return capConfidence(float64(len(v)) / qualityListDenominator)
	case []any:
		return capConfidence(float64(len(v)) / qualityListDenominator)
	case string:
		if len(v) > qualityStringMinLength {
			return qualityStringLongScore
		}
		return qualityStringShort
	default:
		return qualityOtherValue
	}
}

// recommendAction maps the completion result to an action, in priority
// order: transition, escalate, repeat, continue.
func (e *CompletionEvaluator) recommendAction(objective *models.Objective, st *models.ConversationState, res CompletionResult) models.RecommendedAction {
	if res.IsComplete {
		return models.ActionTransition
	}
	if float64(st.ExchangeCount) > EscalateExchangeFactor*float64(objective.AverageExchanges) {
		return models.ActionEscalate
	}
	if res.Confidence < RepeatConfidenceThreshold && st.ExchangeCount >= RepeatMinExchanges {
		return models.ActionRepeat
	}
	return models.ActionContinue
}

// Reasoning renders the blocked gates as a human-readable summary for
// telemetry; it is never shown to the end user.
func (r CompletionResult) Reasoning(objectiveID string) string {
	if r.IsComplete {
		return fmt.Sprintf("objective %s complete: ratio %.2f, confidence %.2f, quality %.2f", objectiveID, r.CompletionRatio, r.Confidence, r.DataQuality)
	}
	return fmt.Sprintf("objective %s open (%s): %s", objectiveID, r.RecommendedAction, strings.Join(r.BlockedGates, "; "))
}
