package backend

import (
	"slices"
	"strings"
	"testing"
)

// TestNewGooseAdapter_GeneratesSessionName verifies generated session names.
func TestNewGooseAdapter_GeneratesSessionName(t *testing.T) {
	adapter, err := NewGooseAdapter(Config{}, nil)
	if err != nil {
		t.Fatalf("NewGooseAdapter failed: %v", err)
	}

	name := adapter.SessionID()
	if !strings.HasPrefix(name, "agentflow-") || len(name) != len("agentflow-")+8 {
		t.Errorf("unexpected session name %q", name)
	}

	other, _ := NewGooseAdapter(Config{}, nil)
	if other.SessionID() == name {
		t.Error("expected distinct generated session names")
	}
}

// TestGooseAdapter_BuildArgs verifies flags for first and resumed runs.
func TestGooseAdapter_BuildArgs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		started bool
		want    []string
	}{
		{
			name: "first run",
			cfg:  Config{SessionID: "my-session"},
			want: []string{"run", "--text", "Hi", "--output-format", "json", "--name", "my-session"},
		},
		{
			name:    "resume",
			cfg:     Config{SessionID: "my-session"},
			started: true,
			want:    []string{"run", "--text", "Hi", "--output-format", "json", "--resume"},
		},
		{
			name: "local LLM",
			cfg:  Config{SessionID: "s", Provider: "ollama", Model: "qwen2.5-coder", SystemPrompt: "Be brief"},
			want: []string{
				"run", "--text", "Hi", "--output-format", "json", "--name", "s",
				"--provider", "ollama", "--model", "qwen2.5-coder", "--system", "Be brief",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewGooseAdapter(tt.cfg, nil)
			if err != nil {
				t.Fatalf("NewGooseAdapter failed: %v", err)
			}
			adapter.started = tt.started

			if args := adapter.buildArgs(Message{Content: "Hi"}); !slices.Equal(args, tt.want) {
				t.Errorf("Expected args %v, got %v", tt.want, args)
			}
		})
	}
}

// TestGooseDialect_Parse verifies JSON, newline-delimited JSON and plain text output.
func TestGooseDialect_Parse(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		stderr string
		want   string
	}{
		{"single object", `{"content": "Hello from Goose"}`, "", "Hello from Goose"},
		{"ndjson", "{\"content\": \"line one\"}\n{\"other\": 1}\n{\"content\": \"line two\"}\n", "", "line one\nline two"},
		{"plain text", "just text", "", "just text"},
		{"plain text with stderr", "out", "warn", "out\n[stderr]: warn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := gooseDialect{}.parse([]byte(tt.stdout), []byte(tt.stderr))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if resp.Content != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, resp.Content)
			}
		})
	}

	if _, err := parseGooseResponse([]byte("no json here")); err == nil {
		t.Error("parseGooseResponse should fail on plain text")
	}
}
