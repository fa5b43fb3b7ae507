package tokens

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nexus3/nexus3/pkg/models"
)

func TestCount(t *testing.T) {
	e := NewEstimator()
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"single char", "x", 1},
		{"exact multiple", "abcd", 1},
		{"rounds up", "abcde", 2},
		{"longer", strings.Repeat("a", 40), 10},
		{"multibyte runes", "日本語", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Count(tt.in); got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestCountMessage(t *testing.T) {
	e := NewEstimator()

	plain := models.Message{Role: models.RoleUser, Content: strings.Repeat("a", 40)}
	if got := e.CountMessage(&plain); got != MessageOverhead+10 {
		t.Errorf("plain message = %d, want %d", got, MessageOverhead+10)
	}

	withCall := models.Message{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCall{
			{ID: "t1", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)},
		},
	}
	want := MessageOverhead + ToolCallOverhead + e.Count("echo") + e.Count(`{"text":"hi"}`)
	if got := e.CountMessage(&withCall); got != want {
		t.Errorf("tool-call message = %d, want %d", got, want)
	}

	if got := e.CountMessage(nil); got != 0 {
		t.Errorf("nil message = %d", got)
	}
}

func TestCountMessagesSumsWindow(t *testing.T) {
	e := NewEstimator()
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "world"},
	}
	want := e.CountMessage(&msgs[0]) + e.CountMessage(&msgs[1])
	if got := e.CountMessages(msgs); got != want {
		t.Errorf("CountMessages = %d, want %d", got, want)
	}
}
