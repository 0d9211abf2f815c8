package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// claudeResponse represents the JSON structure returned by Claude Code CLI.
// Example: {"session_id": "uuid", "result": {"content": [{"type": "text", "text": "response"}]}}
type claudeResponse struct {
	SessionID string `json:"session_id"`
	Result    struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
}

type claudeDialect struct {
	model        string
	systemPrompt string
	tools        []string
}

// NewClaudeAdapter creates a Claude Code CLI backend.
// If cfg.SessionID is empty, a new UUID is generated.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*CLIAdapter, error) {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	d := claudeDialect{model: cfg.Model, systemPrompt: cfg.SystemPrompt, tools: cfg.Tools}
	return newCLIAdapter("claude", cfg, d, sessionID, false, procMgr), nil
}

// buildArgs uses --session-id on the first call and --resume afterwards.
func (d claudeDialect) buildArgs(msg Message, sessionID string, resume bool) []string {
	args := []string{"-p", msg.Content, "--output-format", "json"}

	if resume {
		args = append(args, "--resume", sessionID)
	} else {
		args = append(args, "--session-id", sessionID)
	}

	if d.model != "" {
		args = append(args, "--model", d.model)
	}
	if d.systemPrompt != "" {
		args = append(args, "--system-prompt", d.systemPrompt)
	}
	if len(d.tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(d.tools, ","))
	}

	return args
}

func (claudeDialect) stdin(Message) []byte { return nil }

func (claudeDialect) parse(stdout, _ []byte) (Response, error) {
	return parseClaudeResponse(stdout)
}

// parseClaudeResponse extracts the text content from Claude Code JSON output.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var content strings.Builder
	for _, item := range cr.Result.Content {
		if item.Type == "text" {
			content.WriteString(item.Text)
		}
	}

	return Response{
		Content:   content.String(),
		SessionID: cr.SessionID,
	}, nil
}
