package backend

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

type gooseResponse struct {
	Content string `json:"content"`
}

type gooseDialect struct {
	model        string
	provider     string
	systemPrompt string
}

// NewGooseAdapter creates a Goose CLI backend. Goose names its sessions; a
// name is generated when cfg.SessionID is empty.
func NewGooseAdapter(cfg Config, procMgr *ProcessManager) (*CLIAdapter, error) {
	sessionName := cfg.SessionID
	if sessionName == "" {
		sessionName = "agentflow-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	d := gooseDialect{model: cfg.Model, provider: cfg.Provider, systemPrompt: cfg.SystemPrompt}
	return newCLIAdapter("goose", cfg, d, sessionName, false, procMgr), nil
}

// buildArgs names the session on the first call and resumes it afterwards.
func (d gooseDialect) buildArgs(msg Message, sessionName string, resume bool) []string {
	args := []string{"run", "--text", msg.Content, "--output-format", "json"}

	if resume {
		args = append(args, "--resume")
	} else {
		args = append(args, "--name", sessionName)
	}

	if d.provider != "" {
		args = append(args, "--provider", d.provider)
	}
	if d.model != "" {
		args = append(args, "--model", d.model)
	}
	if d.systemPrompt != "" {
		args = append(args, "--system", d.systemPrompt)
	}

	return args
}

func (gooseDialect) stdin(Message) []byte { return nil }

// parse falls back to raw output (plus stderr) when Goose didn't emit JSON.
func (gooseDialect) parse(stdout, stderr []byte) (Response, error) {
	resp, err := parseGooseResponse(stdout)
	if err == nil {
		return resp, nil
	}

	content := string(stdout)
	if len(stderr) > 0 {
		content += "\n[stderr]: " + string(stderr)
	}
	return Response{Content: content}, nil
}

// parseGooseResponse accepts a single JSON object or newline-delimited objects.
func parseGooseResponse(data []byte) (Response, error) {
	var whole gooseResponse
	if err := json.Unmarshal(data, &whole); err == nil {
		return Response{Content: whole.Content}, nil
	}

	var contents []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var part gooseResponse
		if err := json.Unmarshal([]byte(line), &part); err == nil && part.Content != "" {
			contents = append(contents, part.Content)
		}
	}

	if len(contents) > 0 {
		return Response{Content: strings.Join(contents, "\n")}, nil
	}
	return Response{}, errors.New("failed to parse Goose JSON response")
}
