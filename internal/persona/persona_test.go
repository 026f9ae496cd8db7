package persona

import "testing"

func TestClassify(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		name      string
		utterance string
		wantLabel string
	}{
		{"explorer", "honestly I'm not sure yet, just exploring", "explorer"},
		{"achiever", "my goal is to get into medical school", "achiever"},
		{"pragmatist", "how much does it pay and is it worth the time", "pragmatist"},
		{"supporter", "I'm asking for my daughter actually", "supporter"},
		{"no match", "the weather is nice today", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.utterance)
			if got.Label != tc.wantLabel {
				t.Errorf("expected label %q, got %q (confidence %v)", tc.wantLabel, got.Label, got.Confidence)
			}
			if tc.wantLabel != "" && got.Confidence < MinConfidence {
				t.Errorf("assigned label must carry confidence >= %v, got %v", MinConfidence, got.Confidence)
			}
		})
	}
}

func TestClassify_MultipleHitsScoreHigher(t *testing.T) {
	c := NewClassifier()
	single := c.Classify("how much does it cost")
	multi := c.Classify("how much does it pay and how long does it take, I want something realistic")
	if multi.Confidence <= single.Confidence {
		t.Errorf("corroborating hits should raise confidence: single %v, multi %v", single.Confidence, multi.Confidence)
	}
}

func TestIsValidLabel(t *testing.T) {
	if !IsValidLabel("explorer") {
		t.Error("explorer should be valid")
	}
	if IsValidLabel("wizard") {
		t.Error("wizard should not be valid")
	}
}
