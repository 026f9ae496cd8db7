package engine

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
)

// stubDefinitions is an in-memory DefinitionSource for engine tests.
type stubDefinitions struct {
	objectives map[string]*models.Objective
	trees      map[string]*models.ConversationTree
}

func (s *stubDefinitions) GetObjective(ctx context.Context, id string) (*models.Objective, error) {
	return s.objectives[id], nil
}

func (s *stubDefinitions) GetTree(ctx context.Context, id string) (*models.ConversationTree, error) {
	return s.trees[id], nil
}

func newTestEngine() (*Engine, *stubDefinitions) {
	defs := &stubDefinitions{
		objectives: map[string]*models.Objective{
			"get_name": {
				ID:               "get_name",
				DataPoints:       []string{"name"},
				AverageExchanges: 2,
				SuccessRate:      80,
				Transitions:      models.ObjectiveTransitions{OnSuccess: "discover_interests"},
			},
			"discover_interests": {
				ID:               "discover_interests",
				DataPoints:       []string{"interests", "skills", "goals"},
				AverageExchanges: 3,
				SuccessRate:      70,
			},
		},
		trees: map[string]*models.ConversationTree{
			"default": {
				ID: "default",
				Routing: map[string]models.TreeRoute{
					"get_name": {Success: "discover_interests"},
				},
			},
		},
	}
	return NewEngine(defs), defs
}

func TestEvaluateObjective_ScenarioA_NameInOneExchange(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")

	eval := eng.EvaluateObjective(context.Background(), "get_name", st, "Tim")
	if got := st.DataCollected["name"]; got != "Tim" {
		t.Fatalf("expected name Tim in state, got %v", got)
	}
	if st.ConfidenceScores["name"] < 0.9 {
		t.Errorf("expected confidence >= 0.9, got %v", st.ConfidenceScores["name"])
	}
	if !eval.IsComplete {
		t.Errorf("expected complete, reasoning: %s", eval.Reasoning)
	}
	if eval.RecommendedAction != models.ActionTransition {
		t.Errorf("expected transition, got %s", eval.RecommendedAction)
	}
}

func TestEvaluateObjective_ScenarioB_MissingData(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")

	eval := eng.EvaluateObjective(context.Background(), "discover_interests", st, "I'm really into gaming")
	if eval.IsComplete {
		t.Error("expected incomplete with two points missing")
	}
	want := []string{"skills", "goals"}
	if diff := cmp.Diff(want, eval.MissingData); diff != "" {
		t.Errorf("missing data mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateObjective_ExchangeCountMonotonic(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")

	for i := 1; i <= 4; i++ {
		eng.EvaluateObjective(context.Background(), "discover_interests", st, "hmm")
		if st.ExchangeCount != i {
			t.Fatalf("expected exchange count %d, got %d", i, st.ExchangeCount)
		}
	}
}

func TestEvaluateObjective_IdempotentOnNoise(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")
	eng.EvaluateObjective(context.Background(), "discover_interests", st, "I love coding")

	dataBefore := len(st.DataCollected)
	confBefore := len(st.ConfidenceScores)
	interestsBefore := st.DataCollected["interests"].([]string)

	eng.EvaluateObjective(context.Background(), "discover_interests", st, "hmm")
	if len(st.DataCollected) != dataBefore || len(st.ConfidenceScores) != confBefore {
		t.Error("noise utterance must not change collected data")
	}
	if diff := cmp.Diff(interestsBefore, st.DataCollected["interests"].([]string)); diff != "" {
		t.Errorf("interests changed on noise (-before +after):\n%s", diff)
	}
	if st.ExchangeCount != 2 {
		t.Errorf("exchange count must still advance, got %d", st.ExchangeCount)
	}
	if len(st.ConversationHistory) != 2 {
		t.Errorf("history must still advance, got %d", len(st.ConversationHistory))
	}
}

func TestEvaluateObjective_ListUnionAcrossTurns(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")

	eng.EvaluateObjective(context.Background(), "discover_interests", st, "I love coding")
	eng.EvaluateObjective(context.Background(), "discover_interests", st, "also big into soccer and coding")

	got := st.DataCollected["interests"].([]string)
	want := []string{"technology", "sports"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("interests union mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateObjective_UnknownObjective(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")

	eval := eng.EvaluateObjective(context.Background(), "no_such_objective", st, "hello there")
	if eval.RecommendedAction != models.ActionContinue {
		t.Errorf("unknown objective must recommend continue, got %s", eval.RecommendedAction)
	}
	if eval.Confidence != 0 || eval.IsComplete {
		t.Error("unknown objective must yield a zero-confidence open evaluation")
	}
	if st.ExchangeCount != 0 {
		t.Errorf("state must not advance for an unknown objective, got %d", st.ExchangeCount)
	}
}

func TestEvaluateObjective_ScenarioD_RepeatOnLowEngagement(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")

	var eval models.ObjectiveEvaluation
	for _, filler := range []string{"ok", "yeah", "sure"} {
		eval = eng.EvaluateObjective(context.Background(), "discover_interests", st, filler)
	}
	if eval.RecommendedAction != models.ActionRepeat {
		t.Errorf("expected repeat after three low-information exchanges, got %s", eval.RecommendedAction)
	}
}

func TestEvaluateTransition_CompletesAndRoutes(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")

	eval, decision := eng.EvaluateTransition(context.Background(), "get_name", st, "my name is Sarah")
	if !eval.IsComplete {
		t.Fatalf("expected complete, reasoning: %s", eval.Reasoning)
	}
	if !decision.ShouldTransition {
		t.Fatalf("expected transition, reason: %s", decision.Reason)
	}
	if decision.TargetObjectiveID != "discover_interests" {
		t.Errorf("expected discover_interests, got %s", decision.TargetObjectiveID)
	}
	if !decision.PreserveContext {
		t.Error("context must always be preserved across transitions")
	}
	if eval.NextObjectiveID != "discover_interests" {
		t.Errorf("evaluation should carry the next objective id, got %s", eval.NextObjectiveID)
	}
}

func TestEvaluateTransition_NoTransitionWhileOpen(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")

	_, decision := eng.EvaluateTransition(context.Background(), "discover_interests", st, "I love coding")
	if decision.ShouldTransition {
		t.Errorf("open objective must not transition, reason: %s", decision.Reason)
	}
}

func TestEvaluateTransition_EscalateForcesProgress(t *testing.T) {
	eng, _ := newTestEngine()
	st := models.NewConversationState("c1", "default")
	st.ExchangeCount = 5 // past 1.5x the expected 3 exchanges

	_, decision := eng.EvaluateTransition(context.Background(), "discover_interests", st, "hmm")
	if !decision.ShouldTransition {
		t.Fatalf("escalation must force a transition, reason: %s", decision.Reason)
	}
	// Tree has no route for discover_interests; linear fallback advances one.
	if decision.TargetObjectiveID != "assess_skills" {
		t.Errorf("expected assess_skills via fallback, got %s", decision.TargetObjectiveID)
	}
}

func TestEvaluateTransition_ResolverExhaustion(t *testing.T) {
	defs := &stubDefinitions{
		objectives: map[string]*models.Objective{
			"wrap_up": {ID: "wrap_up", DataPoints: []string{"name"}, AverageExchanges: 1, SuccessRate: 10},
		},
		trees: map[string]*models.ConversationTree{},
	}
	eng := NewEngine(defs)
	st := models.NewConversationState("c1", "missing_tree")

	eval, decision := eng.EvaluateTransition(context.Background(), "wrap_up", st, "Sarah")
	if !eval.IsComplete {
		t.Fatalf("expected complete, reasoning: %s", eval.Reasoning)
	}
	if decision.ShouldTransition || decision.TargetObjectiveID != "" {
		t.Errorf("exhausted resolver must return no target, got %q", decision.TargetObjectiveID)
	}
}
