package store

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
)

// DefaultTreeID names the built-in career-exploration tree seeded on first run.
const DefaultTreeID = "career_exploration"

// DefaultObjectives returns the built-in objective definitions. The IDs follow
// models.DefaultObjectiveOrder; the resolver falls back to that ordering when
// a tree omits routing for an objective.
func DefaultObjectives() []models.Objective {
	return []models.Objective{
		{
			ID:               "welcome",
			DataPoints:       []string{"lifeStage", "currentFeeling"},
			AverageExchanges: 2,
			SuccessRate:      60,
			Transitions:      models.ObjectiveTransitions{OnSuccess: "get_name"},
		},
		{
			ID:               "get_name",
			DataPoints:       []string{"name"},
			AverageExchanges: 1,
			SuccessRate:      80,
			Transitions:      models.ObjectiveTransitions{OnSuccess: "discover_interests"},
		},
		{
			ID:               "discover_interests",
			DataPoints:       []string{"interests"},
			AverageExchanges: 3,
			SuccessRate:      70,
			Transitions:      models.ObjectiveTransitions{OnSuccess: "assess_skills"},
		},
		{
			ID:               "assess_skills",
			DataPoints:       []string{"skills"},
			AverageExchanges: 3,
			SuccessRate:      70,
			Transitions:      models.ObjectiveTransitions{OnSuccess: "explore_goals"},
		},
		{
			ID:               "explore_goals",
			DataPoints:       []string{"goals", "careerDirection"},
			AverageExchanges: 3,
			SuccessRate:      65,
			Transitions:      models.ObjectiveTransitions{OnSuccess: "recommend_path"},
		},
		{
			ID:               "recommend_path",
			DataPoints:       []string{},
			AverageExchanges: 2,
			SuccessRate:      50,
			Transitions:      models.ObjectiveTransitions{OnSuccess: "wrap_up"},
		},
		{
			ID:               "wrap_up",
			DataPoints:       []string{},
			AverageExchanges: 1,
			SuccessRate:      50,
		},
	}
}

// DefaultTree returns the built-in conversation tree. Routing mirrors the
// objectives' onSuccess chain, with one conditional hop: users who already
// name a career direction while exploring goals skip straight to wrap-up
// after the recommendation.
func DefaultTree() models.ConversationTree {
	return models.ConversationTree{
		ID: DefaultTreeID,
		Routing: map[string]models.TreeRoute{
			"welcome":            {Success: "get_name"},
			"get_name":           {Success: "discover_interests"},
			"discover_interests": {Success: "assess_skills"},
			"assess_skills":      {Success: "explore_goals"},
			"explore_goals":      {Success: "recommend_path"},
			"recommend_path":     {Success: "wrap_up"},
		},
		Transitions: []models.TreeTransition{
			{
				From: "explore_goals",
				To:   "recommend_path",
				Conditions: models.ConditionList{
					models.DataPresentCondition{Field: "careerDirection", Operator: models.OperatorExists},
				},
			},
		},
	}
}

// Seed writes the default objectives and tree when the store is empty.
// Existing definitions are never overwritten.
func Seed(s Store) error {
	existing, err := s.ListObjectives()
	if err != nil {
		return fmt.Errorf("failed to check existing objectives: %w", err)
	}
	if len(existing) > 0 {
		slog.Debug("Seed skipped, objectives already present", "count", len(existing))
		return nil
	}

	for _, obj := range DefaultObjectives() {
		if err := s.SaveObjective(obj); err != nil {
			return fmt.Errorf("failed to seed objective %s: %w", obj.ID, err)
		}
	}
	if err := s.SaveTree(DefaultTree()); err != nil {
		return fmt.Errorf("failed to seed default tree: %w", err)
	}
	slog.Info("Seeded default objectives and tree", "objectives", len(models.DefaultObjectiveOrder), "tree", DefaultTreeID)
	return nil
}
