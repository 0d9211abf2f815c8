package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// codexEvent is one line of the Codex CLI --json event stream.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"` // ThreadStarted
	Content  string `json:"content"`   // TurnCompleted
}

type codexDialect struct {
	model string
}

// NewCodexAdapter creates a Codex CLI backend. An empty cfg.SessionID starts a
// new thread; the thread ID is taken from the first response.
func NewCodexAdapter(cfg Config, procMgr *ProcessManager) (*CLIAdapter, error) {
	d := codexDialect{model: cfg.Model}
	return newCLIAdapter("codex", cfg, d, cfg.SessionID, cfg.SessionID != "", procMgr), nil
}

// buildArgs uses "exec" for a new thread and "resume <thread>" afterwards.
func (d codexDialect) buildArgs(msg Message, threadID string, resume bool) []string {
	var args []string
	if !resume || threadID == "" {
		args = []string{"exec", msg.Content, "--json"}
	} else {
		args = []string{"resume", threadID, msg.Content, "--json"}
	}

	if d.model != "" {
		args = append(args, "--model", d.model)
	}
	return args
}

func (codexDialect) stdin(Message) []byte { return nil }

func (codexDialect) parse(stdout, _ []byte) (Response, error) {
	threadID, content, err := parseCodexEvents(stdout)
	if err != nil {
		return Response{}, err
	}
	return Response{Content: content, SessionID: threadID}, nil
}

// parseCodexEvents reads the newline-delimited event stream and returns the
// thread ID and the content of the last completed turn.
func parseCodexEvents(data []byte) (threadID string, content string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return "", "", fmt.Errorf("failed to parse event: %w", err)
		}

		switch evt.Type {
		case "ThreadStarted":
			threadID = evt.ThreadID
		case "TurnCompleted":
			content = evt.Content
		}
	}

	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("error reading events: %w", err)
	}
	return threadID, content, nil
}
