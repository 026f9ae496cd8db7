package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
)

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Postgres DSNs
// use URL or key=value forms; everything else is treated as a SQLite file
// path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// ParseDataPointList decodes a stored data-point list. Definitions arrive
// from several import paths, so the field tolerates a JSON array, a JSON
// array encoded as a string, and raw comma-separated text. Malformed JSON
// degrades to comma splitting with a logged warning; it never fails.
func ParseDataPointList(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return []string{}
	}

	var list []string
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
		return list
	}

	// Tolerate a JSON array double-encoded as a JSON string.
	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &list); err == nil {
			return list
		}
		trimmed = inner
	}

	slog.Warn("ParseDataPointList: falling back to comma splitting", "raw", raw)
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"[]`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// encodeDataPointList renders the canonical stored form of a data-point list.
func encodeDataPointList(points []string) string {
	if points == nil {
		points = []string{}
	}
	data, err := json.Marshal(points)
	if err != nil {
		slog.Error("encodeDataPointList: marshal failed", "error", err)
		return "[]"
	}
	return string(data)
}

// encodeRouting renders the stored form of a tree's routing map.
func encodeRouting(routing map[string]models.TreeRoute) (string, error) {
	if routing == nil {
		return "", nil
	}
	data, err := json.Marshal(routing)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeRouting parses a stored routing map; empty input yields nil.
func decodeRouting(raw string) (map[string]models.TreeRoute, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var routing map[string]models.TreeRoute
	if err := json.Unmarshal([]byte(raw), &routing); err != nil {
		return nil, err
	}
	return routing, nil
}

// encodeTransitions renders the stored form of a tree's transitions list.
func encodeTransitions(transitions []models.TreeTransition) (string, error) {
	if transitions == nil {
		return "", nil
	}
	data, err := json.Marshal(transitions)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeTransitions parses a stored transitions list; empty input yields nil.
func decodeTransitions(raw string) ([]models.TreeTransition, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var transitions []models.TreeTransition
	if err := json.Unmarshal([]byte(raw), &transitions); err != nil {
		return nil, err
	}
	return transitions, nil
}

// decodeState parses a stored conversation state snapshot.
func decodeState(conversationID, blob string) (*models.ConversationState, error) {
	var st models.ConversationState
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", conversationID, err)
	}
	return &st, nil
}

// rowScanner covers *sql.Row and *sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanObjectiveRow scans an objective row, passing sql.ErrNoRows through.
func scanObjectiveRow(row *sql.Row) (*models.Objective, error) {
	return scanObjective(row)
}

func scanObjective(sc rowScanner) (*models.Objective, error) {
	var obj models.Objective
	var rawPoints string
	var onSuccess sql.NullString
	if err := sc.Scan(&obj.ID, &rawPoints, &obj.AverageExchanges, &obj.SuccessRate, &onSuccess); err != nil {
		return nil, err
	}
	obj.DataPoints = ParseDataPointList(rawPoints)
	obj.Transitions.OnSuccess = onSuccess.String
	return &obj, nil
}

// scanConversationRow scans a conversation row, mapping sql.ErrNoRows to nil.
func scanConversationRow(row *sql.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.Recipient, &c.TreeID, &c.CurrentObjectiveID, &c.Status, &c.EnrolledAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation row: %w", err)
	}
	return &c, nil
}

func scanEvaluation(sc rowScanner) (models.EvaluationRecord, error) {
	var rec models.EvaluationRecord
	var reasoning sql.NullString
	if err := sc.Scan(&rec.ID, &rec.ConversationID, &rec.ObjectiveID, &rec.ExchangeCount, &rec.IsComplete,
		&rec.Confidence, &rec.DataQuality, &rec.RecommendedAction, &reasoning, &rec.CreatedAt); err != nil {
		return rec, fmt.Errorf("failed to scan evaluation row: %w", err)
	}
	rec.Reasoning = reasoning.String
	return rec, nil
}
