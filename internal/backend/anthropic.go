package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
)

const (
	defaultAnthropicModel     = anthropic.ModelClaudeSonnet4_20250514
	defaultAnthropicMaxTokens = 4096
)

// AnthropicAdapter implements Backend over the Anthropic Messages API.
// The conversation is kept in memory so later Sends continue it.
type AnthropicAdapter struct {
	client       anthropic.Client
	model        anthropic.Model
	maxTokens    int64
	systemPrompt string
	sessionID    string

	mu      sync.Mutex
	history []anthropic.MessageParam
}

// NewAnthropicAdapter creates an API backend. cfg.APIKey is required.
func NewAnthropicAdapter(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic backend requires an API key (set ANTHROPIC_API_KEY)")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &AnthropicAdapter{
		client:       anthropic.NewClient(opts...),
		model:        model,
		maxTokens:    maxTokens,
		systemPrompt: cfg.SystemPrompt,
		sessionID:    sessionID,
	}, nil
}

// Send makes one Messages API call with the conversation so far.
func (a *AnthropicAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	messages := append(a.history, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  messages,
	}
	if a.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.systemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{
			Error:     fmt.Sprintf("anthropic request failed: %v", err),
			SessionID: a.sessionID,
		}, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(text.Text)
		}
	}

	a.history = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content.String())))
	return Response{Content: content.String(), SessionID: a.sessionID}, nil
}

// Close drops the conversation history.
func (a *AnthropicAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	return nil
}

// SessionID returns the local conversation identifier.
func (a *AnthropicAdapter) SessionID() string {
	return a.sessionID
}
