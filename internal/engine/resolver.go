// Package engine provides transition resolution over conversation trees.
package engine

import (
	"log/slog"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
)

// Transition rule names, reported on decisions for telemetry.
const (
	ruleExplicitTransition = "explicit transition"
	ruleRoutingMap         = "routing map"
	ruleObjectiveSuccess   = "objective onSuccess"
	ruleLinearFallback     = "linear fallback"
)

// TransitionResolver walks a conversation tree's routing rules to pick the
// next objective. The graph may be only partially specified for any given
// deployment, so resolution layers four fallbacks and must never dead-end a
// conversation while one of them can still produce a target.
type TransitionResolver struct {
	// fallbackOrder is the fixed linear ordering used as the last resort.
	fallbackOrder []string
}

// NewTransitionResolver creates a resolver with the default linear fallback
// ordering.
func NewTransitionResolver() *TransitionResolver {
	return &TransitionResolver{fallbackOrder: models.DefaultObjectiveOrder}
}

// NewTransitionResolverWithOrder creates a resolver with a custom linear
// fallback ordering.
func NewTransitionResolverWithOrder(order []string) *TransitionResolver {
	return &TransitionResolver{fallbackOrder: order}
}

// Resolve picks the next objective id for the current one, trying in order:
// the tree's explicit transitions list, the tree's routing map, the
// objective's own onSuccess target, and finally the linear fallback. Each
// conditional rule requires at least one condition to match; unconditional
// rules always apply. Returns the target id and the rule that produced it,
// or "" when every layer is exhausted.
func (r *TransitionResolver) Resolve(currentID string, tree *models.ConversationTree, objective *models.Objective, st *models.ConversationState) (string, string) {
	if tree != nil {
		for _, tr := range tree.Transitions {
			if tr.From != currentID {
				continue
			}
			if !tr.Conditions.AnyMatches(st) {
				slog.Debug("TransitionResolver: transition conditions not met", "from", currentID, "to", tr.To)
				continue
			}
			slog.Debug("TransitionResolver: explicit transition matched", "from", currentID, "to", tr.To)
			return tr.To, ruleExplicitTransition
		}

		if route, ok := tree.Routing[currentID]; ok && route.Success != "" {
			if route.Conditions.AnyMatches(st) {
				slog.Debug("TransitionResolver: routing map matched", "from", currentID, "to", route.Success)
				return route.Success, ruleRoutingMap
			}
			slog.Debug("TransitionResolver: routing conditions not met", "from", currentID, "to", route.Success)
		}
	}

	if objective != nil && objective.Transitions.OnSuccess != "" {
		slog.Debug("TransitionResolver: using objective onSuccess", "from", currentID, "to", objective.Transitions.OnSuccess)
		return objective.Transitions.OnSuccess, ruleObjectiveSuccess
	}

	if next := r.linearNext(currentID); next != "" {
		slog.Debug("TransitionResolver: linear fallback", "from", currentID, "to", next)
		return next, ruleLinearFallback
	}

	slog.Debug("TransitionResolver: exhausted, no next objective", "from", currentID)
	return "", ""
}

// linearNext advances exactly one position in the fallback ordering.
func (r *TransitionResolver) linearNext(currentID string) string {
	for i, id := range r.fallbackOrder {
		if id == currentID && i+1 < len(r.fallbackOrder) {
			return r.fallbackOrder[i+1]
		}
	}
	return ""
}
