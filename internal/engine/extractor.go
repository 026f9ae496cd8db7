// Package engine implements the objective evaluation engine: pattern
// extraction, completion evaluation, transition resolution, and the
// per-turn orchestrator that ties them together.
package engine

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
)

// Confidence assignment constants. Extraction confidence is rule-based:
// explicit self-disclosure scores highest, inferred keyword matches lower.
const (
	// ConfidenceExplicit is assigned to explicit self-disclosure patterns
	// such as "my name is X".
	ConfidenceExplicit = 0.95
	// ConfidenceBareReply is assigned to a bare single-token reply in a
	// context that expects that data point.
	ConfidenceBareReply = 0.9
	// ConfidenceMultiKeyword is assigned when multiple keyword hits corroborate.
	ConfidenceMultiKeyword = 0.8
	// ConfidenceSingleKeyword is assigned to a single inferred keyword match.
	ConfidenceSingleKeyword = 0.7
	// LengthBonus is added when the utterance exceeds LengthBonusThreshold.
	LengthBonus = 0.05
	// LengthBonusThreshold is the utterance length that earns the bonus.
	LengthBonusThreshold = 40
)

// Extraction holds typed candidate facts pulled from one utterance.
// Confidence keys mirror Values keys exactly; a data point without evidence
// is absent from both maps, never present with zero confidence.
type Extraction struct {
	Values     map[string]any
	Confidence map[string]float64
}

// Empty reports whether the extraction carries no facts.
func (e Extraction) Empty() bool { return len(e.Values) == 0 }

// Extractor turns one raw utterance into typed candidate facts for the
// active objective's data points. Implementations must be total: they always
// return a well-formed, possibly empty, extraction and never fail.
type Extractor interface {
	Extract(utterance string, objective *models.Objective) Extraction
}

// PatternExtractor is the default keyword/regex extraction strategy.
type PatternExtractor struct{}

// NewPatternExtractor creates the default pattern-based extractor.
func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name(?:'s| is)\s+([a-z][a-z'-]*)`),
	regexp.MustCompile(`(?i)\bcall me\s+([a-z][a-z'-]*)`),
	regexp.MustCompile(`(?i)^i(?:'m| am)\s+([a-z][a-z'-]*)[.!]?$`),
}

// bareReplyStopwords are single tokens that are conversational filler, not
// answers; a bare "ok" must never be collected as a name.
var bareReplyStopwords = map[string]bool{
	"ok": true, "okay": true, "yes": true, "no": true, "yeah": true,
	"yep": true, "nope": true, "sure": true, "maybe": true, "hi": true,
	"hey": true, "hello": true, "thanks": true, "thank": true, "fine": true,
	"cool": true, "hmm": true, "idk": true, "dunno": true,
}

type keywordLabel struct {
	keyword string
	label   string
}

// scalarBanks maps scalar data-point ids to ordered keyword matchers.
// Matching is first-match-wins per category; categories are independent, so
// one utterance may populate several data points.
var scalarBanks = map[string][]keywordLabel{
	"lifeStage": {
		{"high school", "high_school"},
		{"highschool", "high_school"},
		{"grad school", "graduate"},
		{"graduate", "graduate"},
		{"college", "college"},
		{"university", "college"},
		{"undergrad", "college"},
		{"gap year", "gap_year"},
		{"career change", "career_change"},
		{"my job", "working"},
		{"working", "working"},
	},
	"careerDirection": {
		{"software", "technology"},
		{"programming", "technology"},
		{"coding", "technology"},
		{"tech", "technology"},
		{"engineer", "engineering"},
		{"medicine", "healthcare"},
		{"doctor", "healthcare"},
		{"nurse", "healthcare"},
		{"health", "healthcare"},
		{"business", "business"},
		{"startup", "business"},
		{"marketing", "business"},
		{"finance", "business"},
		{"design", "creative"},
		{"music", "creative"},
		{"writing", "creative"},
		{"art", "creative"},
		{"teaching", "education"},
		{"education", "education"},
		{"research", "science"},
		{"science", "science"},
		{"law", "law"},
		{"legal", "law"},
	},
	"currentFeeling": {
		{"excited", "excited"},
		{"can't wait", "excited"},
		{"looking forward", "excited"},
		{"nervous", "nervous"},
		{"anxious", "nervous"},
		{"worried", "nervous"},
		{"scared", "nervous"},
		{"confused", "uncertain"},
		{"not sure", "uncertain"},
		{"no idea", "uncertain"},
		{"lost", "uncertain"},
		{"stressed", "stressed"},
		{"overwhelmed", "stressed"},
		{"curious", "curious"},
		{"wondering", "curious"},
		{"interested", "curious"},
		{"happy", "positive"},
		{"great", "positive"},
		{"good", "positive"},
	},
}

// listBanks maps list-valued data-point ids to keyword categories. Matched
// category labels accumulate without duplicates.
var listBanks = map[string]map[string][]string{
	"interests": {
		"technology": {"computers", "coding", "games", "gaming", "tech", "robots"},
		"sports":     {"sports", "soccer", "basketball", "running", "gym", "swimming"},
		"arts":       {"music", "drawing", "painting", "art", "writing", "reading"},
		"science":    {"science", "space", "biology", "physics", "chemistry"},
		"outdoors":   {"hiking", "camping", "nature", "travel", "traveling"},
		"social":     {"volunteering", "people", "community", "friends"},
	},
	"skills": {
		"communication": {"public speaking", "presenting", "communication", "talking to people"},
		"technical":     {"coding", "programming", "computers", "math", "technical"},
		"leadership":    {"leading", "leadership", "organizing", "managing"},
		"creative":      {"design", "drawing", "creating", "creativity", "creative"},
		"analytical":    {"problem solving", "analysis", "research", "analytical"},
		"teamwork":      {"team", "collaboration", "working with others"},
	},
	"goals": {
		"education": {"degree", "college", "study", "learn", "graduate"},
		"career":    {"job", "career", "internship", "profession", "work"},
		"financial": {"money", "salary", "earn", "income"},
		"personal":  {"travel", "family", "health", "happiness"},
		"impact":    {"help people", "make a difference", "change the world", "community"},
	},
}

// Extract applies the matcher bank for each of the objective's required data
// points. It is total: unmatched text produces an empty extraction, never an
// error.
func (e *PatternExtractor) Extract(utterance string, objective *models.Objective) Extraction {
	out := Extraction{
		Values:     make(map[string]any),
		Confidence: make(map[string]float64),
	}
	if objective == nil {
		return out
	}
	trimmed := strings.TrimSpace(utterance)
	lower := strings.ToLower(trimmed)
	if lower == "" {
		return out
	}

	for _, dp := range objective.DataPoints {
		switch {
		case dp == "name":
			if value, confidence, ok := extractName(trimmed, lower); ok {
				out.Values[dp] = value
				out.Confidence[dp] = confidence
			}
		case scalarBanks[dp] != nil:
			if label, confidence, ok := extractScalar(lower, scalarBanks[dp]); ok {
				out.Values[dp] = label
				out.Confidence[dp] = confidence
			}
		case listBanks[dp] != nil:
			if labels, confidence, ok := extractList(lower, listBanks[dp]); ok {
				out.Values[dp] = labels
				out.Confidence[dp] = confidence
			}
		default:
			// No matcher bank for this data point; no evidence is collected.
			slog.Debug("PatternExtractor: no matcher bank for data point", "dataPoint", dp, "objective", objective.ID)
		}
	}

	// Longer messages carry more context; reward every extracted fact.
	if len(trimmed) > LengthBonusThreshold {
		for key := range out.Confidence {
			out.Confidence[key] = capConfidence(out.Confidence[key] + LengthBonus)
		}
	}
	return out
}

// extractName matches explicit self-disclosure first, then falls back to a
// bare single-token reply, which in a name-expectation context is almost
// always the answer.
func extractName(trimmed, lower string) (string, float64, bool) {
	for _, pattern := range namePatterns {
		if m := pattern.FindStringSubmatch(trimmed); m != nil {
			return capitalize(m[1]), ConfidenceExplicit, true
		}
	}
	token := strings.Trim(trimmed, ".!? ")
	if token != "" && !strings.ContainsAny(token, " \t\n") && len(token) >= 2 &&
		isAlphabetic(token) && !bareReplyStopwords[strings.ToLower(token)] {
		return capitalize(token), ConfidenceBareReply, true
	}
	return "", 0, false
}

// extractScalar returns the first matching label in bank order plus a
// confidence reflecting how many keywords of the bank corroborate it.
func extractScalar(lower string, bank []keywordLabel) (string, float64, bool) {
	var matched string
	hits := 0
	for _, kl := range bank {
		if strings.Contains(lower, kl.keyword) {
			if matched == "" {
				matched = kl.label
			}
			hits++
		}
	}
	if matched == "" {
		return "", 0, false
	}
	if hits > 1 {
		return matched, ConfidenceMultiKeyword, true
	}
	return matched, ConfidenceSingleKeyword, true
}

// extractList accumulates every matched category label without duplicates.
func extractList(lower string, bank map[string][]string) ([]string, float64, bool) {
	var labels []string
	seen := make(map[string]bool)
	// Iterate categories in a stable order for deterministic output.
	for _, category := range sortedKeys(bank) {
		for _, keyword := range bank[category] {
			if strings.Contains(lower, keyword) {
				if !seen[category] {
					seen[category] = true
					labels = append(labels, category)
				}
				break
			}
		}
	}
	if len(labels) == 0 {
		return nil, 0, false
	}
	if len(labels) > 1 {
		return labels, ConfidenceMultiKeyword, true
	}
	return labels, ConfidenceSingleKeyword, true
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isAlphabetic(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && r != '\'' && r != '-' {
			return false
		}
	}
	return true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func capConfidence(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	return c
}
