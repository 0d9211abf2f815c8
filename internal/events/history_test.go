package events

import (
	"fmt"
	"testing"
)

func TestHistoryRecent(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		added     int
		n         int
		wantTypes []string
	}{
		{"empty", 3, 0, 5, nil},
		{"partial", 5, 2, 10, []string{"e.0", "e.1"}},
		{"last n", 5, 4, 2, []string{"e.2", "e.3"}},
		{"wrapped", 3, 5, 3, []string{"e.2", "e.3", "e.4"}},
		{"non-positive n returns all", 3, 5, 0, []string{"e.2", "e.3", "e.4"}},
		{"exactly full", 3, 3, 3, []string{"e.0", "e.1", "e.2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(tt.size)
			for i := 0; i < tt.added; i++ {
				h.Add(Event{Type: fmt.Sprintf("e.%d", i)})
			}

			got := h.Recent(tt.n)
			if len(got) != len(tt.wantTypes) {
				t.Fatalf("expected %d events, got %d", len(tt.wantTypes), len(got))
			}
			for i, want := range tt.wantTypes {
				if got[i].Type != want {
					t.Errorf("event %d: expected %s, got %s", i, want, got[i].Type)
				}
			}
		})
	}
}

func TestHistoryDefaultSize(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistorySize+10; i++ {
		h.Add(Event{Type: "x"})
	}
	if h.Len() != DefaultHistorySize {
		t.Errorf("expected %d retained events, got %d", DefaultHistorySize, h.Len())
	}
}
