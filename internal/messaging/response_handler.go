package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ObjectivePipe/internal/engine"
	"github.com/BTreeMap/ObjectivePipe/internal/models"
	"github.com/BTreeMap/ObjectivePipe/internal/persona"
	"github.com/BTreeMap/ObjectivePipe/internal/store"
	"github.com/BTreeMap/ObjectivePipe/internal/util"
)

// ReplyGenerator produces the assistant's next message for an active
// objective. The GenAI client satisfies this; tests substitute their own.
type ReplyGenerator interface {
	GenerateObjectiveReply(ctx context.Context, objective *models.Objective, st *models.ConversationState, missing []string) (string, error)
}

// defaultUnenrolledMessage is sent to senders with no active conversation.
const defaultUnenrolledMessage = "Thanks for reaching out! You are not enrolled in a conversation yet."

// ResponseHandler routes inbound responses through the evaluation engine.
// It is the single writer for each conversation's state: a per-conversation
// mutex serializes turns so concurrent webhooks for the same sender cannot
// interleave state updates.
type ResponseHandler struct {
	store      store.Store
	engine     *engine.Engine
	classifier *persona.Classifier
	generator  ReplyGenerator // nil disables generated replies
	msgService Service

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*ResponseHandler)

// WithReplyGenerator enables GenAI-backed reply generation.
func WithReplyGenerator(g ReplyGenerator) HandlerOption {
	return func(rh *ResponseHandler) { rh.generator = g }
}

// NewResponseHandler creates a ResponseHandler over the given dependencies.
func NewResponseHandler(msgService Service, st store.Store, eng *engine.Engine, opts ...HandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		store:      st,
		engine:     eng,
		classifier: persona.NewClassifier(),
		msgService: msgService,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// Start consumes the messaging service's response channel until the context
// is cancelled or the channel closes.
func (rh *ResponseHandler) Start(ctx context.Context) {
	go func() {
		slog.Debug("ResponseHandler loop started")
		for {
			select {
			case <-ctx.Done():
				slog.Debug("ResponseHandler loop stopped", "reason", ctx.Err())
				return
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler response channel closed")
					return
				}
				if err := rh.ProcessResponse(ctx, response); err != nil {
					slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
				}
			}
		}
	}()
}

// ProcessResponse handles one inbound message: it finds the sender's active
// conversation, runs the turn, and sends the reply. Unknown senders get a
// static notice instead of an error.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	conversation, err := rh.store.GetConversationByRecipient(canonicalFrom)
	if err != nil {
		return fmt.Errorf("failed to look up conversation for %s: %w", canonicalFrom, err)
	}
	if conversation == nil || conversation.Status != models.ConversationStatusActive {
		slog.Debug("ResponseHandler no active conversation", "from", canonicalFrom)
		if sendErr := rh.msgService.SendMessage(ctx, canonicalFrom, defaultUnenrolledMessage); sendErr != nil {
			slog.Error("ResponseHandler failed to send unenrolled notice", "error", sendErr, "from", canonicalFrom)
		}
		return nil
	}

	result, err := rh.ProcessTurn(ctx, conversation, response.Body)
	if err != nil {
		return err
	}

	if result.Reply != "" {
		if err := rh.msgService.SendMessage(ctx, canonicalFrom, result.Reply); err != nil {
			slog.Error("ResponseHandler failed to send reply", "error", err, "to", canonicalFrom)
			return fmt.Errorf("failed to send reply to %s: %w", canonicalFrom, err)
		}
	}
	return nil
}

// ProcessTurn runs one full evaluation turn for a conversation: persona
// classification, objective evaluation, transition handling, persistence,
// and reply assembly. The API layer calls this directly for synchronous
// message endpoints.
func (rh *ResponseHandler) ProcessTurn(ctx context.Context, conversation *models.Conversation, message string) (models.ConversationTurnResult, error) {
	lock := rh.conversationLock(conversation.ID)
	lock.Lock()
	defer lock.Unlock()

	st, err := rh.store.GetConversationState(conversation.ID)
	if err != nil {
		return models.ConversationTurnResult{}, fmt.Errorf("failed to load state for %s: %w", conversation.ID, err)
	}
	if st == nil {
		slog.Warn("ResponseHandler state missing, reinitializing", "conversationID", conversation.ID)
		st = models.NewConversationState(conversation.ID, conversation.TreeID)
	}

	if st.UserPersona == "" {
		if c := rh.classifier.Classify(message); c.Label != "" {
			st.UserPersona = c.Label
			slog.Debug("ResponseHandler persona classified", "conversationID", conversation.ID, "persona", c.Label, "confidence", c.Confidence)
		}
	}

	objectiveID := conversation.CurrentObjectiveID
	evaluation, decision := rh.engine.EvaluateTransition(ctx, objectiveID, st, message)

	if decision.ShouldTransition {
		conversation.CurrentObjectiveID = decision.TargetObjectiveID
		conversation.UpdatedAt = time.Now()
		if err := rh.store.SaveConversation(*conversation); err != nil {
			return models.ConversationTurnResult{}, fmt.Errorf("failed to advance conversation %s: %w", conversation.ID, err)
		}
		slog.Info("ResponseHandler objective advanced",
			"conversationID", conversation.ID,
			"from", objectiveID,
			"to", decision.TargetObjectiveID)
	}

	reply := rh.buildReply(ctx, conversation, st, evaluation, decision)
	if reply != "" {
		st.AppendMessage("assistant", reply)
	}

	if err := rh.store.SaveConversationState(*st); err != nil {
		return models.ConversationTurnResult{}, fmt.Errorf("failed to persist state for %s: %w", conversation.ID, err)
	}
	rh.recordEvaluation(conversation.ID, st.ExchangeCount, evaluation)

	return models.ConversationTurnResult{
		ConversationID: conversation.ID,
		ObjectiveID:    conversation.CurrentObjectiveID,
		Evaluation:     evaluation,
		Decision:       decision,
		Reply:          reply,
	}, nil
}

// buildReply asks the generator for the next message and falls back to a
// static prompt when generation is unavailable or fails.
func (rh *ResponseHandler) buildReply(ctx context.Context, conversation *models.Conversation, st *models.ConversationState, evaluation models.ObjectiveEvaluation, decision models.TransitionDecision) string {
	activeID := conversation.CurrentObjectiveID
	missing := evaluation.MissingData
	if decision.ShouldTransition {
		// The reply speaks for the new objective, whose data is still
		// uncollected at this point.
		missing = nil
	}

	if rh.generator != nil {
		objective, err := rh.engine.Definitions().GetObjective(ctx, activeID)
		if err == nil && objective != nil {
			if decision.ShouldTransition {
				missing = objectiveMissing(objective, st)
			}
			reply, genErr := rh.generator.GenerateObjectiveReply(ctx, objective, st, missing)
			if genErr == nil && strings.TrimSpace(reply) != "" {
				return reply
			}
			slog.Warn("ResponseHandler reply generation failed, using fallback", "error", genErr, "objectiveID", activeID)
		}
	}
	return staticReply(activeID, st)
}

// recordEvaluation persists a telemetry row; failures are logged, never
// surfaced, since telemetry must not break the conversation.
func (rh *ResponseHandler) recordEvaluation(conversationID string, exchangeCount int, evaluation models.ObjectiveEvaluation) {
	rec := models.EvaluationRecord{
		ID:                util.GenerateEvaluationID(),
		ConversationID:    conversationID,
		ObjectiveID:       evaluation.ObjectiveID,
		ExchangeCount:     exchangeCount,
		IsComplete:        evaluation.IsComplete,
		Confidence:        evaluation.Confidence,
		DataQuality:       evaluation.DataQuality,
		RecommendedAction: evaluation.RecommendedAction,
		Reasoning:         evaluation.Reasoning,
		CreatedAt:         time.Now(),
	}
	if err := rh.store.AddEvaluation(rec); err != nil {
		slog.Error("ResponseHandler failed to record evaluation", "error", err, "conversationID", conversationID)
	}
}

func (rh *ResponseHandler) conversationLock(conversationID string) *sync.Mutex {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	lock, ok := rh.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		rh.locks[conversationID] = lock
	}
	return lock
}

// objectiveMissing lists the objective's data points not yet collected.
func objectiveMissing(objective *models.Objective, st *models.ConversationState) []string {
	missing := []string{}
	for _, dp := range objective.DataPoints {
		if val, ok := st.DataCollected[dp]; !ok || val == nil {
			missing = append(missing, dp)
		}
	}
	return missing
}

// staticReply is the non-generative fallback, one canned prompt per built-in
// objective.
func staticReply(objectiveID string, st *models.ConversationState) string {
	name, _ := st.DataCollected["name"].(string)
	switch objectiveID {
	case "welcome":
		return "Hi! I'm here to help you explore career directions. How are you feeling about things right now?"
	case "get_name":
		return "Before we dive in, what should I call you?"
	case "discover_interests":
		if name != "" {
			return fmt.Sprintf("Great to meet you, %s! What kinds of things do you enjoy doing?", name)
		}
		return "What kinds of things do you enjoy doing?"
	case "assess_skills":
		return "What would you say you're good at?"
	case "explore_goals":
		return "Where would you like to be a few years from now?"
	case "recommend_path":
		return "Based on what you've shared, let's look at a few directions that could fit you well."
	case "wrap_up":
		if name != "" {
			return fmt.Sprintf("Thanks for the conversation, %s! Feel free to come back anytime.", name)
		}
		return "Thanks for the conversation! Feel free to come back anytime."
	default:
		return "Tell me more!"
	}
}
