package backend

import (
	"context"

	"github.com/google/uuid"
)

// EchoAdapter replies with the message it was sent. Used for dry runs.
type EchoAdapter struct {
	sessionID string
}

// NewEchoAdapter creates an echo backend.
func NewEchoAdapter(cfg Config) *EchoAdapter {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &EchoAdapter{sessionID: sessionID}
}

// Send returns msg.Content, or the context error if ctx is already done.
func (e *EchoAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{Error: err.Error(), SessionID: e.sessionID}, err
	}
	return Response{Content: msg.Content, SessionID: e.sessionID}, nil
}

func (e *EchoAdapter) Close() error { return nil }

func (e *EchoAdapter) SessionID() string { return e.sessionID }
