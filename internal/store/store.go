// Package store provides storage backends for ObjectivePipe.
//
// It persists objective and tree definitions, conversation records,
// conversation state snapshots, and evaluation telemetry, with SQLite,
// PostgreSQL, and in-memory implementations. The store is the validation
// boundary for definition fields: the engine only ever consumes the typed
// form loaded here.
package store

import (
	"sort"
	"sync"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
)

// Store is the persistence abstraction shared by all backends.
type Store interface {
	SaveObjective(obj models.Objective) error
	GetObjective(id string) (*models.Objective, error)
	ListObjectives() ([]models.Objective, error)

	SaveTree(tree models.ConversationTree) error
	GetTree(id string) (*models.ConversationTree, error)

	SaveConversation(c models.Conversation) error
	GetConversation(id string) (*models.Conversation, error)
	GetConversationByRecipient(recipient string) (*models.Conversation, error)
	ListConversations() ([]models.Conversation, error)

	SaveConversationState(st models.ConversationState) error
	GetConversationState(conversationID string) (*models.ConversationState, error)
	DeleteConversationState(conversationID string) error

	AddEvaluation(rec models.EvaluationRecord) error
	GetEvaluations(conversationID string) ([]models.EvaluationRecord, error)

	Close() error
}

// InMemoryStore is a simple mutex-guarded in-memory store used by tests and
// small deployments.
type InMemoryStore struct {
	mu            sync.RWMutex
	objectives    map[string]models.Objective
	trees         map[string]models.ConversationTree
	conversations map[string]models.Conversation
	states        map[string]models.ConversationState
	evaluations   []models.EvaluationRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		objectives:    make(map[string]models.Objective),
		trees:         make(map[string]models.ConversationTree),
		conversations: make(map[string]models.Conversation),
		states:        make(map[string]models.ConversationState),
	}
}

// SaveObjective validates and stores an objective definition.
func (s *InMemoryStore) SaveObjective(obj models.Objective) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objectives[obj.ID] = obj
	return nil
}

// GetObjective returns the objective or nil when absent.
func (s *InMemoryStore) GetObjective(id string) (*models.Objective, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objectives[id]
	if !ok {
		return nil, nil
	}
	return &obj, nil
}

// ListObjectives returns all objectives sorted by id.
func (s *InMemoryStore) ListObjectives() ([]models.Objective, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Objective, 0, len(s.objectives))
	for _, obj := range s.objectives {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveTree validates and stores a tree definition.
func (s *InMemoryStore) SaveTree(tree models.ConversationTree) error {
	if err := tree.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[tree.ID] = tree
	return nil
}

// GetTree returns the tree or nil when absent.
func (s *InMemoryStore) GetTree(id string) (*models.ConversationTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tree, ok := s.trees[id]
	if !ok {
		return nil, nil
	}
	return &tree, nil
}

// SaveConversation stores a conversation record.
func (s *InMemoryStore) SaveConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

// GetConversation returns the conversation or nil when absent.
func (s *InMemoryStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// GetConversationByRecipient returns the conversation for a recipient or nil.
func (s *InMemoryStore) GetConversationByRecipient(recipient string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.Recipient == recipient {
			return &c, nil
		}
	}
	return nil, nil
}

// ListConversations returns all conversations sorted by id.
func (s *InMemoryStore) ListConversations() ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveConversationState stores a state snapshot.
func (s *InMemoryStore) SaveConversationState(st models.ConversationState) error {
	if st.ConversationID == "" {
		return models.ErrEmptyConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ConversationID] = st
	return nil
}

// GetConversationState returns the state snapshot or nil when absent.
func (s *InMemoryStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[conversationID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// DeleteConversationState removes a state snapshot.
func (s *InMemoryStore) DeleteConversationState(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	return nil
}

// AddEvaluation appends an evaluation telemetry record.
func (s *InMemoryStore) AddEvaluation(rec models.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations = append(s.evaluations, rec)
	return nil
}

// GetEvaluations returns the evaluation records for a conversation in order.
func (s *InMemoryStore) GetEvaluations(conversationID string) ([]models.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EvaluationRecord
	for _, rec := range s.evaluations {
		if rec.ConversationID == conversationID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
