// Package genai generates conversational replies using the OpenAI API.
//
// The evaluation engine decides what the next objective is; this package
// turns that decision into the assistant's next message. Callers always
// have a static fallback, so generation failures are recoverable.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned indicates the API returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

// Defaults for completion parameters.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 300
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// realChatService adapts the OpenAI client's completion service to chatService.
type realChatService struct {
	client openai.Client
}

func (r realChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completion service for reply generation.
type Client struct {
	chat        chatService
	model       openai.ChatModel
	temperature float64
	maxTokens   int64
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       openai.ChatModel
	Temperature float64
	MaxTokens   int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default completion model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithMaxTokens overrides the default completion token limit.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not set via options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		slog.Error("NewClient: OPENAI_API_KEY not set")
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client initialized", "model", cfg.Model)
	return &Client{
		chat:        realChatService{client: cli},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// GeneratePrompt generates a response from a system and user prompt pair.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext is GeneratePrompt with caller-controlled
// cancellation.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

// GenerateWithMessages generates a response from a full message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenerateWithMessages: completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateObjectiveReply generates the assistant's next turn for an active
// objective. The system prompt is assembled from the objective's outstanding
// data points, the user's persona label, and the recent conversation history.
func (c *Client) GenerateObjectiveReply(ctx context.Context, objective *models.Objective, st *models.ConversationState, missing []string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(buildObjectiveSystemPrompt(objective, st, missing)),
	}
	for _, msg := range recentHistory(st, 10) {
		switch msg.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return c.GenerateWithMessages(ctx, messages)
}

// buildObjectiveSystemPrompt renders the guidance for the active objective.
func buildObjectiveSystemPrompt(objective *models.Objective, st *models.ConversationState, missing []string) string {
	var b strings.Builder
	b.WriteString("You are a friendly career-exploration guide having a text conversation. ")
	b.WriteString("Keep replies short, warm, and conversational. Ask one question at a time.\n")
	fmt.Fprintf(&b, "Current conversation stage: %s.\n", objective.ID)
	if len(missing) > 0 {
		fmt.Fprintf(&b, "You still need to learn about: %s. Steer the conversation toward these naturally.\n", strings.Join(missing, ", "))
	} else {
		b.WriteString("You have everything you need for this stage. Acknowledge what the user shared and move forward.\n")
	}
	if st.UserPersona != "" {
		fmt.Fprintf(&b, "The user's communication style is %q; match their energy.\n", st.UserPersona)
	}
	if name, ok := st.DataCollected["name"].(string); ok && name != "" {
		fmt.Fprintf(&b, "The user's name is %s; use it occasionally.\n", name)
	}
	return b.String()
}

// recentHistory returns the last n messages of the conversation history.
func recentHistory(st *models.ConversationState, n int) []models.ConversationMessage {
	history := st.ConversationHistory
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}
