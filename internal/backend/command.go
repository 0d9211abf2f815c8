package backend

import (
	"bytes"
	"errors"

	"github.com/google/uuid"
)

// commandDialect drives an arbitrary CLI: the prompt goes to stdin, and
// trimmed stdout is the reply. A system prompt is sent ahead of the message.
type commandDialect struct {
	systemPrompt string
}

// NewCommandAdapter creates a backend around cfg.Command. The command is run
// with cfg.Args, one process per message.
func NewCommandAdapter(cfg Config, procMgr *ProcessManager) (*CLIAdapter, error) {
	if cfg.Command == "" {
		return nil, errors.New("command backend requires a command")
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return newCLIAdapter("command", cfg, commandDialect{systemPrompt: cfg.SystemPrompt}, sessionID, false, procMgr), nil
}

func (commandDialect) buildArgs(Message, string, bool) []string { return nil }

func (d commandDialect) stdin(msg Message) []byte {
	if d.systemPrompt == "" {
		return []byte(msg.Content)
	}
	return []byte(d.systemPrompt + "\n\n" + msg.Content)
}

func (commandDialect) parse(stdout, _ []byte) (Response, error) {
	return Response{Content: string(bytes.TrimSpace(stdout))}, nil
}
