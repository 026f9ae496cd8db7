package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestInMemoryStoreObjectiveRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	obj := models.Objective{
		ID:               "get_name",
		DataPoints:       []string{"name"},
		AverageExchanges: 1,
		SuccessRate:      80,
		Transitions:      models.ObjectiveTransitions{OnSuccess: "discover_interests"},
	}
	if err := s.SaveObjective(obj); err != nil {
		t.Fatalf("SaveObjective failed: %v", err)
	}

	got, err := s.GetObjective("get_name")
	if err != nil {
		t.Fatalf("GetObjective failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected objective, got nil")
	}
	if diff := cmp.Diff(obj, *got); diff != "" {
		t.Errorf("objective mismatch (-want +got):\n%s", diff)
	}

	missing, err := s.GetObjective("nope")
	if err != nil {
		t.Fatalf("GetObjective for missing id failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing objective, got %+v", missing)
	}
}

func TestInMemoryStoreRejectsInvalidObjective(t *testing.T) {
	s := NewInMemoryStore()
	err := s.SaveObjective(models.Objective{ID: "", SuccessRate: 50})
	if err == nil {
		t.Fatal("expected error for empty objective id")
	}
	err = s.SaveObjective(models.Objective{ID: "x", SuccessRate: 150})
	if err == nil {
		t.Fatal("expected error for out-of-range success rate")
	}
}

func TestInMemoryStoreConversationByRecipient(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now().UTC()
	c := models.Conversation{
		ID:                 "c_1",
		Recipient:          "+15551234567",
		TreeID:             DefaultTreeID,
		CurrentObjectiveID: "welcome",
		Status:             models.ConversationStatusActive,
		EnrolledAt:         now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.SaveConversation(c); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	got, err := s.GetConversationByRecipient("+15551234567")
	if err != nil {
		t.Fatalf("GetConversationByRecipient failed: %v", err)
	}
	if got == nil || got.ID != "c_1" {
		t.Fatalf("expected conversation c_1, got %+v", got)
	}

	none, err := s.GetConversationByRecipient("+15550000000")
	if err != nil {
		t.Fatalf("GetConversationByRecipient for unknown recipient failed: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for unknown recipient, got %+v", none)
	}
}

func TestInMemoryStoreStateLifecycle(t *testing.T) {
	s := NewInMemoryStore()
	st := models.NewConversationState("c_1", DefaultTreeID)
	st.DataCollected["name"] = "Tim"
	st.ConfidenceScores["name"] = 0.95
	if err := s.SaveConversationState(*st); err != nil {
		t.Fatalf("SaveConversationState failed: %v", err)
	}

	got, err := s.GetConversationState("c_1")
	if err != nil {
		t.Fatalf("GetConversationState failed: %v", err)
	}
	if got == nil || got.DataCollected["name"] != "Tim" {
		t.Fatalf("unexpected state: %+v", got)
	}

	if err := s.DeleteConversationState("c_1"); err != nil {
		t.Fatalf("DeleteConversationState failed: %v", err)
	}
	gone, err := s.GetConversationState("c_1")
	if err != nil {
		t.Fatalf("GetConversationState after delete failed: %v", err)
	}
	if gone != nil {
		t.Errorf("expected nil after delete, got %+v", gone)
	}
}

func TestParseDataPointList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"json array", `["name","interests"]`, []string{"name", "interests"}},
		{"double encoded", `"[\"name\",\"skills\"]"`, []string{"name", "skills"}},
		{"comma separated", "name, skills , goals", []string{"name", "skills", "goals"}},
		{"empty", "", []string{}},
		{"empty array", "[]", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDataPointList(tt.raw)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ParseDataPointList(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestSeedPopulatesEmptyStore(t *testing.T) {
	s := NewInMemoryStore()
	if err := Seed(s); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	objs, err := s.ListObjectives()
	if err != nil {
		t.Fatalf("ListObjectives failed: %v", err)
	}
	if len(objs) != len(models.DefaultObjectiveOrder) {
		t.Fatalf("expected %d objectives, got %d", len(models.DefaultObjectiveOrder), len(objs))
	}

	tree, err := s.GetTree(DefaultTreeID)
	if err != nil {
		t.Fatalf("GetTree failed: %v", err)
	}
	if tree == nil {
		t.Fatal("expected default tree after seeding")
	}
	for _, id := range models.DefaultObjectiveOrder[:len(models.DefaultObjectiveOrder)-1] {
		if _, ok := tree.Routing[id]; !ok {
			t.Errorf("routing missing entry for %s", id)
		}
	}

	// Seeding again must not duplicate or overwrite.
	if err := s.SaveObjective(models.Objective{ID: "welcome", DataPoints: []string{"custom"}, SuccessRate: 10}); err != nil {
		t.Fatalf("SaveObjective failed: %v", err)
	}
	if err := Seed(s); err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}
	obj, err := s.GetObjective("welcome")
	if err != nil {
		t.Fatalf("GetObjective failed: %v", err)
	}
	if len(obj.DataPoints) != 1 || obj.DataPoints[0] != "custom" {
		t.Errorf("Seed overwrote existing objective: %+v", obj)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "objectivepipe.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if err := Seed(s); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	obj, err := s.GetObjective("discover_interests")
	if err != nil {
		t.Fatalf("GetObjective failed: %v", err)
	}
	if obj == nil {
		t.Fatal("expected seeded objective")
	}
	if diff := cmp.Diff([]string{"interests"}, obj.DataPoints); diff != "" {
		t.Errorf("data points mismatch (-want +got):\n%s", diff)
	}
	if obj.Transitions.OnSuccess != "assess_skills" {
		t.Errorf("expected onSuccess assess_skills, got %q", obj.Transitions.OnSuccess)
	}

	tree, err := s.GetTree(DefaultTreeID)
	if err != nil {
		t.Fatalf("GetTree failed: %v", err)
	}
	if tree == nil {
		t.Fatal("expected seeded tree")
	}
	if got := tree.Routing["welcome"].Success; got != "get_name" {
		t.Errorf("expected routing welcome->get_name, got %q", got)
	}
	if len(tree.Transitions) != 1 || tree.Transitions[0].From != "explore_goals" {
		t.Errorf("unexpected transitions: %+v", tree.Transitions)
	}

	st := models.NewConversationState("c_42", DefaultTreeID)
	st.DataCollected["interests"] = []string{"technology"}
	st.ConfidenceScores["interests"] = 0.8
	st.ExchangeCount = 2
	if err := s.SaveConversationState(*st); err != nil {
		t.Fatalf("SaveConversationState failed: %v", err)
	}
	loaded, err := s.GetConversationState("c_42")
	if err != nil {
		t.Fatalf("GetConversationState failed: %v", err)
	}
	if loaded == nil || loaded.ExchangeCount != 2 {
		t.Fatalf("unexpected loaded state: %+v", loaded)
	}
	if loaded.ConfidenceScores["interests"] != 0.8 {
		t.Errorf("expected confidence 0.8, got %v", loaded.ConfidenceScores["interests"])
	}

	rec := models.EvaluationRecord{
		ID:                "e_1",
		ConversationID:    "c_42",
		ObjectiveID:       "discover_interests",
		ExchangeCount:     2,
		IsComplete:        false,
		Confidence:        0.8,
		DataQuality:       0.33,
		RecommendedAction: models.ActionContinue,
		Reasoning:         "objective discover_interests in progress",
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.AddEvaluation(rec); err != nil {
		t.Fatalf("AddEvaluation failed: %v", err)
	}
	recs, err := s.GetEvaluations("c_42")
	if err != nil {
		t.Fatalf("GetEvaluations failed: %v", err)
	}
	if len(recs) != 1 || recs[0].RecommendedAction != models.ActionContinue {
		t.Fatalf("unexpected evaluation records: %+v", recs)
	}
}
