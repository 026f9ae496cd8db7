// Package engine provides the evaluation orchestrator, the public entry
// point of the objective evaluation engine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
)

// DefinitionSource supplies objective and tree definitions by id. A missing
// definition is reported as (nil, nil), not an error; implementations
// validate definitions at load time so the engine only sees typed forms.
type DefinitionSource interface {
	GetObjective(ctx context.Context, id string) (*models.Objective, error)
	GetTree(ctx context.Context, id string) (*models.ConversationTree, error)
}

// Engine is the evaluation orchestrator. It is stateless: one instance is
// constructed per process and holds no per-conversation data. All
// per-conversation data lives in the ConversationState passed into every
// call, which callers must not mutate concurrently for the same
// conversation.
type Engine struct {
	defs      DefinitionSource
	extractor Extractor
	evaluator *CompletionEvaluator
	resolver  *TransitionResolver
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtractor swaps the extraction strategy.
func WithExtractor(ex Extractor) Option {
	return func(e *Engine) { e.extractor = ex }
}

// WithResolver swaps the transition resolver.
func WithResolver(r *TransitionResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// NewEngine creates an engine over the given definition source.
func NewEngine(defs DefinitionSource, opts ...Option) *Engine {
	e := &Engine{
		defs:      defs,
		extractor: NewPatternExtractor(),
		evaluator: NewCompletionEvaluator(),
		resolver:  NewTransitionResolver(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definitions exposes the engine's definition source so callers can load
// the same typed definitions the engine evaluates against.
func (e *Engine) Definitions() DefinitionSource {
	return e.defs
}

// EvaluateObjective processes one user utterance against the active
// objective: it extracts candidate facts, merges them into state, increments
// the exchange count, and scores completion. The returned evaluation is
// always well formed; engine-internal faults degrade the evaluation instead
// of propagating. State mutation is the only side effect.
func (e *Engine) EvaluateObjective(ctx context.Context, objectiveID string, st *models.ConversationState, utterance string) models.ObjectiveEvaluation {
	slog.Debug("Engine.EvaluateObjective invoked", "objectiveID", objectiveID, "conversationID", st.ConversationID, "exchangeCount", st.ExchangeCount)

	objective, err := e.defs.GetObjective(ctx, objectiveID)
	if err != nil {
		slog.Error("Engine.EvaluateObjective definition lookup failed", "error", err, "objectiveID", objectiveID)
	}
	if objective == nil {
		// A single bad id must never halt the conversation: return a
		// zero-confidence evaluation recommending continue.
		return models.ObjectiveEvaluation{
			ObjectiveID:       objectiveID,
			RecommendedAction: models.ActionContinue,
			MissingData:       []string{},
			Reasoning:         fmt.Sprintf("objective %s has no backing definition", objectiveID),
		}
	}

	extraction := e.extractor.Extract(utterance, objective)
	e.mergeExtraction(st, extraction)

	st.ExchangeCount++
	st.LastUserMessage = utterance
	st.AppendMessage("user", utterance)

	result := e.evaluator.Evaluate(objective, st)
	evaluation := models.ObjectiveEvaluation{
		ObjectiveID:       objectiveID,
		IsComplete:        result.IsComplete,
		Confidence:        result.Confidence,
		MissingData:       e.missingData(objective, st),
		RecommendedAction: result.RecommendedAction,
		Reasoning:         result.Reasoning(objectiveID),
		DataQuality:       result.DataQuality,
	}

	slog.Debug("Engine.EvaluateObjective completed",
		"objectiveID", objectiveID,
		"conversationID", st.ConversationID,
		"isComplete", evaluation.IsComplete,
		"confidence", evaluation.Confidence,
		"action", evaluation.RecommendedAction,
		"missing", len(evaluation.MissingData))
	return evaluation
}

// EvaluateTransition evaluates the utterance and, when the objective is
// complete or the evaluator wants to force progress, consults the transition
// resolver for a target. Context is always preserved across a transition:
// only the active objective pointer changes.
func (e *Engine) EvaluateTransition(ctx context.Context, objectiveID string, st *models.ConversationState, utterance string) (models.ObjectiveEvaluation, models.TransitionDecision) {
	evaluation := e.EvaluateObjective(ctx, objectiveID, st, utterance)

	decision := models.TransitionDecision{
		Reason:          evaluation.Reasoning,
		Confidence:      evaluation.Confidence,
		PreserveContext: true,
	}

	wantsTransition := evaluation.IsComplete ||
		evaluation.RecommendedAction == models.ActionTransition ||
		evaluation.RecommendedAction == models.ActionEscalate
	if !wantsTransition {
		return evaluation, decision
	}

	objective, err := e.defs.GetObjective(ctx, objectiveID)
	if err != nil {
		slog.Error("Engine.EvaluateTransition objective lookup failed", "error", err, "objectiveID", objectiveID)
	}
	tree, err := e.defs.GetTree(ctx, st.CurrentTreeID)
	if err != nil {
		slog.Error("Engine.EvaluateTransition tree lookup failed", "error", err, "treeID", st.CurrentTreeID)
	}

	target, rule := e.resolver.Resolve(objectiveID, tree, objective, st)
	if target == "" {
		// Resolver exhaustion: the caller decides what "no valid next
		// objective" means.
		decision.Reason = fmt.Sprintf("no next objective after %s: %s", objectiveID, evaluation.Reasoning)
		slog.Info("Engine.EvaluateTransition resolver exhausted", "objectiveID", objectiveID, "conversationID", st.ConversationID)
		return evaluation, decision
	}

	decision.ShouldTransition = true
	decision.TargetObjectiveID = target
	decision.Reason = fmt.Sprintf("%s via %s: %s", target, rule, evaluation.Reasoning)
	evaluation.NextObjectiveID = target

	slog.Info("Engine.EvaluateTransition transition decided",
		"from", objectiveID,
		"to", target,
		"rule", rule,
		"conversationID", st.ConversationID,
		"action", evaluation.RecommendedAction)
	return evaluation, decision
}

// mergeExtraction folds extracted facts into state. Scalars overwrite, list
// values union without duplicates, and confidence follows the latest
// extraction for its key so ConfidenceScores keys always mirror
// DataCollected keys.
func (e *Engine) mergeExtraction(st *models.ConversationState, extraction Extraction) {
	if extraction.Empty() {
		return
	}
	for key, val := range extraction.Values {
		if newList, ok := toStringList(val); ok {
			if oldList, ok := toStringList(st.DataCollected[key]); ok {
				val = unionLists(oldList, newList)
			} else {
				val = newList
			}
		}
		st.DataCollected[key] = val
		st.ConfidenceScores[key] = extraction.Confidence[key]
	}
	st.UpdatedAt = time.Now()
}

func (e *Engine) missingData(objective *models.Objective, st *models.ConversationState) []string {
	missing := []string{}
	for _, dp := range objective.DataPoints {
		if val, ok := st.DataCollected[dp]; !ok || val == nil {
			missing = append(missing, dp)
		}
	}
	return missing
}

func toStringList(val any) ([]string, bool) {
	switch v := val.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out, true
	default:
		return nil, false
	}
}

func unionLists(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, item := range a {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	for _, item := range b {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
