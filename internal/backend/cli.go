package backend

import (
	"context"
	"fmt"
	"sync"
)

// dialect is how one CLI is driven: how a prompt becomes argv and stdin, and
// how its output becomes a Response.
type dialect interface {
	buildArgs(msg Message, sessionID string, resume bool) []string
	stdin(msg Message) []byte
	parse(stdout, stderr []byte) (Response, error)
}

// CLIAdapter implements Backend by running one subprocess per message.
type CLIAdapter struct {
	name    string
	command string
	extra   []string
	workDir string
	dialect dialect
	procMgr *ProcessManager // optional

	mu        sync.Mutex
	sessionID string
	started   bool // a first message was sent; later calls resume
}

func newCLIAdapter(name string, cfg Config, d dialect, sessionID string, started bool, pm *ProcessManager) *CLIAdapter {
	return &CLIAdapter{
		name:      name,
		command:   cfg.command(name),
		extra:     append([]string(nil), cfg.Args...),
		workDir:   cfg.WorkDir,
		dialect:   d,
		procMgr:   pm,
		sessionID: sessionID,
		started:   started,
	}
}

// Send runs the CLI once. Calls on one adapter are serialized so resumes
// happen in order.
func (a *CLIAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	args := append(a.buildArgs(msg), a.extra...)
	cmd := newCommand(ctx, a.command, args...)
	cmd.Dir = a.workDir

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr, a.dialect.stdin(msg))
	if err != nil {
		return Response{
			Error:     fmt.Sprintf("%s command failed: %v", a.name, err),
			SessionID: a.sessionID,
		}, err
	}

	resp, err := a.dialect.parse(stdout, stderr)
	if err != nil {
		return Response{
			Error:     fmt.Sprintf("failed to parse %s response: %v (stderr: %s)", a.name, err, string(stderr)),
			SessionID: a.sessionID,
		}, err
	}

	if resp.SessionID != "" {
		a.sessionID = resp.SessionID
	}
	resp.SessionID = a.sessionID
	a.started = true

	return resp, nil
}

func (a *CLIAdapter) buildArgs(msg Message) []string {
	return a.dialect.buildArgs(msg, a.sessionID, a.started)
}

// Close is a no-op (subprocess-per-invocation model).
func (a *CLIAdapter) Close() error {
	return nil
}

// SessionID returns the current session identifier.
func (a *CLIAdapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Command returns the binary the adapter runs.
func (a *CLIAdapter) Command() string {
	return a.command
}
