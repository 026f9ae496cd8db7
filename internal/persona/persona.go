// Package persona provides a fixed whitelist of user persona labels and a
// keyword-based classifier over recent user messages. The label it produces
// is consumed only by persona-type routing conditions; classification is
// optional and the engine works identically without it.
package persona

import (
	"strings"
)

// ---- Whitelist ----

// AllLabels is the hard-coded set of persona labels.
var AllLabels = map[string]bool{
	"explorer":   true, // browsing options, open-ended questions
	"achiever":   true, // concrete targets, deadlines, outcomes
	"pragmatist": true, // cost, time, practicality first
	"supporter":  true, // asking on behalf of someone else
}

// labelKeywords maps each label to its trigger phrases.
var labelKeywords = map[string][]string{
	"explorer": {
		"not sure yet", "exploring", "looking around", "what are my options",
		"curious about", "open to anything",
	},
	"achiever": {
		"my goal", "i want to become", "by next year", "deadline",
		"get into", "top of", "as fast as possible",
	},
	"pragmatist": {
		"how much", "how long", "is it worth", "realistic",
		"pay well", "job market", "practical",
	},
	"supporter": {
		"my son", "my daughter", "my kid", "my friend", "for someone else",
		"my student",
	},
}

// Classification thresholds.
const (
	// MinConfidence is the floor below which no label is assigned.
	MinConfidence       = 0.5
	singleHitConfidence = 0.6
	multiHitConfidence  = 0.85
)

// Classification is the classifier's verdict for one utterance.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier assigns persona labels from raw utterances.
type Classifier struct{}

// NewClassifier creates a keyword persona classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify scans the utterance for persona trigger phrases. It returns an
// empty label when no phrase matches or confidence stays below the floor;
// callers must treat an empty label as "leave the persona unchanged".
func (c *Classifier) Classify(utterance string) Classification {
	lower := strings.ToLower(utterance)
	best := Classification{}
	for label, keywords := range labelKeywords {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := singleHitConfidence
		if hits > 1 {
			confidence = multiHitConfidence
		}
		if confidence > best.Confidence {
			best = Classification{Label: label, Confidence: confidence}
		}
	}
	if best.Confidence < MinConfidence {
		return Classification{}
	}
	return best
}

// IsValidLabel checks the label against the whitelist.
func IsValidLabel(label string) bool {
	return AllLabels[label]
}
