package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; the parent directory
// is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveObjective validates and upserts an objective definition.
func (s *SQLiteStore) SaveObjective(obj models.Objective) error {
	if err := obj.Validate(); err != nil {
		return fmt.Errorf("invalid objective %s: %w", obj.ID, err)
	}
	_, err := s.db.Exec(`INSERT INTO objectives (id, data_points, average_exchanges, success_rate, on_success)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data_points=excluded.data_points, average_exchanges=excluded.average_exchanges,
			success_rate=excluded.success_rate, on_success=excluded.on_success, updated_at=CURRENT_TIMESTAMP`,
		obj.ID, encodeDataPointList(obj.DataPoints), obj.AverageExchanges, obj.SuccessRate, obj.Transitions.OnSuccess)
	if err != nil {
		slog.Error("SQLiteStore SaveObjective failed", "error", err, "id", obj.ID)
		return fmt.Errorf("failed to save objective %s: %w", obj.ID, err)
	}
	slog.Debug("SQLiteStore SaveObjective succeeded", "id", obj.ID)
	return nil
}

// GetObjective loads an objective or returns nil when absent.
func (s *SQLiteStore) GetObjective(id string) (*models.Objective, error) {
	row := s.db.QueryRow(`SELECT id, data_points, average_exchanges, success_rate, on_success FROM objectives WHERE id = ?`, id)
	obj, err := scanObjectiveRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetObjective failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get objective %s: %w", id, err)
	}
	return obj, nil
}

// ListObjectives returns all objective definitions.
func (s *SQLiteStore) ListObjectives() ([]models.Objective, error) {
	rows, err := s.db.Query(`SELECT id, data_points, average_exchanges, success_rate, on_success FROM objectives ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListObjectives query failed", "error", err)
		return nil, fmt.Errorf("failed to query objectives: %w", err)
	}
	defer rows.Close()

	var out []models.Objective
	for rows.Next() {
		obj, err := scanObjective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate objective rows: %w", err)
	}
	return out, nil
}

// SaveTree validates and upserts a tree definition.
func (s *SQLiteStore) SaveTree(tree models.ConversationTree) error {
	if err := tree.Validate(); err != nil {
		return fmt.Errorf("invalid tree %s: %w", tree.ID, err)
	}
	routing, err := encodeRouting(tree.Routing)
	if err != nil {
		return fmt.Errorf("failed to encode routing for tree %s: %w", tree.ID, err)
	}
	transitions, err := encodeTransitions(tree.Transitions)
	if err != nil {
		return fmt.Errorf("failed to encode transitions for tree %s: %w", tree.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO trees (id, routing, transitions) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET routing=excluded.routing, transitions=excluded.transitions, updated_at=CURRENT_TIMESTAMP`,
		tree.ID, routing, transitions)
	if err != nil {
		slog.Error("SQLiteStore SaveTree failed", "error", err, "id", tree.ID)
		return fmt.Errorf("failed to save tree %s: %w", tree.ID, err)
	}
	slog.Debug("SQLiteStore SaveTree succeeded", "id", tree.ID)
	return nil
}

// GetTree loads a tree or returns nil when absent.
func (s *SQLiteStore) GetTree(id string) (*models.ConversationTree, error) {
	var routingRaw, transitionsRaw sql.NullString
	tree := models.ConversationTree{}
	err := s.db.QueryRow(`SELECT id, routing, transitions FROM trees WHERE id = ?`, id).
		Scan(&tree.ID, &routingRaw, &transitionsRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTree failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get tree %s: %w", id, err)
	}
	if tree.Routing, err = decodeRouting(routingRaw.String); err != nil {
		slog.Error("SQLiteStore GetTree routing decode failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to decode routing for tree %s: %w", id, err)
	}
	if tree.Transitions, err = decodeTransitions(transitionsRaw.String); err != nil {
		slog.Error("SQLiteStore GetTree transitions decode failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to decode transitions for tree %s: %w", id, err)
	}
	return &tree, nil
}

// SaveConversation upserts a conversation record.
func (s *SQLiteStore) SaveConversation(c models.Conversation) error {
	_, err := s.db.Exec(`INSERT INTO conversations (id, recipient, tree_id, current_objective_id, status, enrolled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET recipient=excluded.recipient, tree_id=excluded.tree_id,
			current_objective_id=excluded.current_objective_id, status=excluded.status, updated_at=excluded.updated_at`,
		c.ID, c.Recipient, c.TreeID, c.CurrentObjectiveID, c.Status, c.EnrolledAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	return nil
}

// GetConversation loads a conversation or returns nil when absent.
func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, recipient, tree_id, current_objective_id, status, enrolled_at, created_at, updated_at FROM conversations WHERE id = ?`, id)
	return scanConversationRow(row)
}

// GetConversationByRecipient loads the conversation bound to a recipient.
func (s *SQLiteStore) GetConversationByRecipient(recipient string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, recipient, tree_id, current_objective_id, status, enrolled_at, created_at, updated_at FROM conversations WHERE recipient = ?`, recipient)
	return scanConversationRow(row)
}

// ListConversations returns all conversation records.
func (s *SQLiteStore) ListConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT id, recipient, tree_id, current_objective_id, status, enrolled_at, created_at, updated_at FROM conversations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Recipient, &c.TreeID, &c.CurrentObjectiveID, &c.Status, &c.EnrolledAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return out, nil
}

// SaveConversationState upserts a JSON state snapshot.
func (s *SQLiteStore) SaveConversationState(st models.ConversationState) error {
	if st.ConversationID == "" {
		return models.ErrEmptyConversationID
	}
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", st.ConversationID, err)
	}
	_, err = s.db.Exec(`INSERT INTO conversation_states (conversation_id, state) VALUES (?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET state=excluded.state, updated_at=CURRENT_TIMESTAMP`,
		st.ConversationID, string(blob))
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "conversationID", st.ConversationID)
		return fmt.Errorf("failed to save state for %s: %w", st.ConversationID, err)
	}
	return nil
}

// GetConversationState loads a state snapshot or returns nil when absent.
func (s *SQLiteStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	var blob string
	err := s.db.QueryRow(`SELECT state FROM conversation_states WHERE conversation_id = ?`, conversationID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", conversationID, err)
	}
	return decodeState(conversationID, blob)
}

// DeleteConversationState removes a state snapshot.
func (s *SQLiteStore) DeleteConversationState(conversationID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete state for %s: %w", conversationID, err)
	}
	return nil
}

// AddEvaluation appends an evaluation telemetry record.
func (s *SQLiteStore) AddEvaluation(rec models.EvaluationRecord) error {
	_, err := s.db.Exec(`INSERT INTO evaluations (id, conversation_id, objective_id, exchange_count, is_complete, confidence, data_quality, recommended_action, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationID, rec.ObjectiveID, rec.ExchangeCount, rec.IsComplete, rec.Confidence, rec.DataQuality, rec.RecommendedAction, rec.Reasoning, rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddEvaluation failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to insert evaluation for %s: %w", rec.ConversationID, err)
	}
	return nil
}

// GetEvaluations returns the evaluation records for a conversation in order.
func (s *SQLiteStore) GetEvaluations(conversationID string) ([]models.EvaluationRecord, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, objective_id, exchange_count, is_complete, confidence, data_quality, recommended_action, reasoning, created_at
		FROM evaluations WHERE conversation_id = ? ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	var out []models.EvaluationRecord
	for rows.Next() {
		rec, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evaluation rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }
