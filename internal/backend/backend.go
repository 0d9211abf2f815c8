package backend

import (
	"context"
	"fmt"
)

// Backend is one conversation with a model provider.
// Send may be called repeatedly; later calls continue the same conversation.
type Backend interface {
	// Send delivers a message and waits for the reply. Cancelling ctx
	// aborts the call and kills any subprocess it started.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases the backend. It is safe to call more than once.
	Close() error

	// SessionID identifies the conversation for resumption.
	SessionID() string
}

// Message is a prompt sent to a backend.
type Message struct {
	Content string
	Role    string // "user" or "system"
}

// Response is a backend reply.
type Response struct {
	Content   string
	SessionID string
	Error     string
}

// Config selects and configures a backend.
type Config struct {
	Type         string   // "claude", "codex", "goose", "command", "anthropic" or "echo"
	Command      string   // CLI binary; defaults to the type name for CLI backends
	Args         []string // Extra arguments for every invocation
	WorkDir      string
	SessionID    string
	Model        string
	Provider     string // For Goose local LLMs (e.g., "ollama", "lmstudio", "llama.cpp")
	SystemPrompt string
	Tools        []string // Allowed tools, for CLIs that support an allow list
	MaxTokens    int      // Response limit for API backends
	APIKey       string   // For the anthropic backend
	BaseURL      string   // Overrides the API endpoint (tests, proxies)
}

// command returns the configured binary or fallback.
func (c Config) command(fallback string) string {
	if c.Command != "" {
		return c.Command
	}
	return fallback
}

// New creates a backend of cfg.Type. pm is optional and tracks subprocesses
// for CLI backends.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeAdapter(cfg, pm)
	case "codex":
		return NewCodexAdapter(cfg, pm)
	case "goose":
		return NewGooseAdapter(cfg, pm)
	case "command":
		return NewCommandAdapter(cfg, pm)
	case "anthropic":
		return NewAnthropicAdapter(cfg)
	case "echo":
		return NewEchoAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
