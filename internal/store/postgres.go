package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
	_ "github.com/lib/pq"
)

// Connection pool settings for the Postgres backend.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveObjective validates and upserts an objective definition.
func (s *PostgresStore) SaveObjective(obj models.Objective) error {
	if err := obj.Validate(); err != nil {
		return fmt.Errorf("invalid objective %s: %w", obj.ID, err)
	}
	_, err := s.db.Exec(`INSERT INTO objectives (id, data_points, average_exchanges, success_rate, on_success)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET data_points = EXCLUDED.data_points, average_exchanges = EXCLUDED.average_exchanges,
			success_rate = EXCLUDED.success_rate, on_success = EXCLUDED.on_success, updated_at = NOW()`,
		obj.ID, encodeDataPointList(obj.DataPoints), obj.AverageExchanges, obj.SuccessRate, obj.Transitions.OnSuccess)
	if err != nil {
		slog.Error("PostgresStore SaveObjective failed", "error", err, "id", obj.ID)
		return fmt.Errorf("failed to save objective %s: %w", obj.ID, err)
	}
	slog.Debug("PostgresStore SaveObjective succeeded", "id", obj.ID)
	return nil
}

// GetObjective loads an objective or returns nil when absent.
func (s *PostgresStore) GetObjective(id string) (*models.Objective, error) {
	row := s.db.QueryRow(`SELECT id, data_points, average_exchanges, success_rate, on_success FROM objectives WHERE id = $1`, id)
	obj, err := scanObjectiveRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetObjective failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get objective %s: %w", id, err)
	}
	return obj, nil
}

// ListObjectives returns all objective definitions.
func (s *PostgresStore) ListObjectives() ([]models.Objective, error) {
	rows, err := s.db.Query(`SELECT id, data_points, average_exchanges, success_rate, on_success FROM objectives ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListObjectives query failed", "error", err)
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
func (s *PostgresStore) SaveTree(tree models.ConversationTree) error {
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
	_, err = s.db.Exec(`INSERT INTO trees (id, routing, transitions) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET routing = EXCLUDED.routing, transitions = EXCLUDED.transitions, updated_at = NOW()`,
		tree.ID, routing, transitions)
	if err != nil {
		slog.Error("PostgresStore SaveTree failed", "error", err, "id", tree.ID)
		return fmt.Errorf("failed to save tree %s: %w", tree.ID, err)
	}
	slog.Debug("PostgresStore SaveTree succeeded", "id", tree.ID)
	return nil
}

// GetTree loads a tree or returns nil when absent.
func (s *PostgresStore) GetTree(id string) (*models.ConversationTree, error) {
	var routingRaw, transitionsRaw sql.NullString
	tree := models.ConversationTree{}
	err := s.db.QueryRow(`SELECT id, routing, transitions FROM trees WHERE id = $1`, id).
		Scan(&tree.ID, &routingRaw, &transitionsRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTree failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get tree %s: %w", id, err)
	}
	if tree.Routing, err = decodeRouting(routingRaw.String); err != nil {
		return nil, fmt.Errorf("failed to decode routing for tree %s: %w", id, err)
	}
	if tree.Transitions, err = decodeTransitions(transitionsRaw.String); err != nil {
		return nil, fmt.Errorf("failed to decode transitions for tree %s: %w", id, err)
	}
	return &tree, nil
}

// SaveConversation upserts a conversation record.
func (s *PostgresStore) SaveConversation(c models.Conversation) error {
	_, err := s.db.Exec(`INSERT INTO conversations (id, recipient, tree_id, current_objective_id, status, enrolled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET recipient = EXCLUDED.recipient, tree_id = EXCLUDED.tree_id,
			current_objective_id = EXCLUDED.current_objective_id, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		c.ID, c.Recipient, c.TreeID, c.CurrentObjectiveID, c.Status, c.EnrolledAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	return nil
}

// GetConversation loads a conversation or returns nil when absent.
func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, recipient, tree_id, current_objective_id, status, enrolled_at, created_at, updated_at FROM conversations WHERE id = $1`, id)
	return scanConversationRow(row)
}

// GetConversationByRecipient loads the conversation bound to a recipient.
func (s *PostgresStore) GetConversationByRecipient(recipient string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, recipient, tree_id, current_objective_id, status, enrolled_at, created_at, updated_at FROM conversations WHERE recipient = $1`, recipient)
	return scanConversationRow(row)
}

// ListConversations returns all conversation records.
func (s *PostgresStore) ListConversations() ([]models.Conversation, error) {
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
func (s *PostgresStore) SaveConversationState(st models.ConversationState) error {
	if st.ConversationID == "" {
		return models.ErrEmptyConversationID
	}
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", st.ConversationID, err)
	}
	_, err = s.db.Exec(`INSERT INTO conversation_states (conversation_id, state) VALUES ($1, $2)
		ON CONFLICT (conversation_id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`,
		st.ConversationID, string(blob))
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "conversationID", st.ConversationID)
		return fmt.Errorf("failed to save state for %s: %w", st.ConversationID, err)
	}
	return nil
}

// GetConversationState loads a state snapshot or returns nil when absent.
func (s *PostgresStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	var blob string
	err := s.db.QueryRow(`SELECT state FROM conversation_states WHERE conversation_id = $1`, conversationID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", conversationID, err)
	}
	return decodeState(conversationID, blob)
}

// DeleteConversationState removes a state snapshot.
func (s *PostgresStore) DeleteConversationState(conversationID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete state for %s: %w", conversationID, err)
	}
	return nil
}

// AddEvaluation appends an evaluation telemetry record.
func (s *PostgresStore) AddEvaluation(rec models.EvaluationRecord) error {
	_, err := s.db.Exec(`INSERT INTO evaluations (id, conversation_id, objective_id, exchange_count, is_complete, confidence, data_quality, recommended_action, reasoning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.ConversationID, rec.ObjectiveID, rec.ExchangeCount, rec.IsComplete, rec.Confidence, rec.DataQuality, rec.RecommendedAction, rec.Reasoning, rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddEvaluation failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to insert evaluation for %s: %w", rec.ConversationID, err)
	}
	return nil
}

// GetEvaluations returns the evaluation records for a conversation in order.
func (s *PostgresStore) GetEvaluations(conversationID string) ([]models.EvaluationRecord, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, objective_id, exchange_count, is_complete, confidence, data_quality, recommended_action, reasoning, created_at
		FROM evaluations WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
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
func (s *PostgresStore) Close() error { return s.db.Close() }
