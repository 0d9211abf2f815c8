package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/aristath/agentflow/internal/orchestrator"
	"github.com/aristath/agentflow/internal/scheduler"
)

var _ orchestrator.Agent = (*Agent)(nil)

// Agent runs tasks through a fresh Backend per task, so concurrent tasks on
// one agent never share a conversation.
type Agent struct {
	id      string
	caps    []string
	cfg     Config
	procMgr *ProcessManager
	logger  *zap.Logger
	factory func(Config, *ProcessManager) (Backend, error)
}

// NewAgent creates an agent named id serving caps, backed by cfg.Type.
// The backend configuration is checked up front.
func NewAgent(id string, caps []string, cfg Config, pm *ProcessManager, logger *zap.Logger) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case "claude", "codex", "goose", "command", "anthropic", "echo":
	default:
		return nil, fmt.Errorf("agent %q: unknown backend type: %s", id, cfg.Type)
	}
	if cfg.Type == "command" && cfg.Command == "" {
		return nil, fmt.Errorf("agent %q: command backend requires a command", id)
	}

	return &Agent{
		id:      id,
		caps:    append([]string(nil), caps...),
		cfg:     cfg,
		procMgr: pm,
		logger:  logger.With(zap.String("agent_id", id)),
		factory: New,
	}, nil
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Capabilities() []string { return a.caps }

// Execute sends the task's prompt to a new backend and returns the reply text.
func (a *Agent) Execute(ctx context.Context, task *scheduler.Task) (any, error) {
	be, err := a.factory(a.cfg, a.procMgr)
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", a.cfg.Type, err)
	}
	defer be.Close()

	prompt := BuildPrompt(task)
	a.logger.Debug("sending task",
		zap.String("task_id", task.ID),
		zap.String("backend", a.cfg.Type),
		zap.String("session", be.SessionID()),
		zap.Int("prompt_bytes", len(prompt)))

	resp, err := be.Send(ctx, Message{Role: "user", Content: prompt})
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}

// HealthCheck reports whether the backend can be reached: the CLI binary is
// on PATH, or an API key is configured.
func (a *Agent) HealthCheck(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	switch a.cfg.Type {
	case "echo":
		return true
	case "anthropic":
		return a.cfg.APIKey != ""
	default:
		_, err := exec.LookPath(a.cfg.command(a.cfg.Type))
		return err == nil
	}
}

// BuildPrompt turns a task payload into prompt text. Strings are used as-is;
// a map's "prompt" entry is used when present; workflow follow-ups quote the
// previous step's output; anything else is rendered as JSON.
func BuildPrompt(task *scheduler.Task) string {
	switch p := task.Payload.(type) {
	case nil:
		return fmt.Sprintf("Complete task %s as the %s.", task.ID, task.Role)
	case string:
		return p
	case map[string]any:
		if prompt, ok := p["prompt"].(string); ok {
			return prompt
		}
	case scheduler.FollowUpPayload:
		var b strings.Builder
		fmt.Fprintf(&b, "Continue the %s workflow as the %s.\n", p.Workflow, task.Role)
		fmt.Fprintf(&b, "Output of the previous step (%s):\n\n", p.ParentID)
		fmt.Fprint(&b, p.ParentResult)
		return b.String()
	}

	data, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Sprint(task.Payload)
	}
	return string(data)
}
