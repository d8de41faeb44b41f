package compaction

import (
	"testing"

	"github.com/codesage-ai/codesage/pkg/models"
)

func TestEstimateTextTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"four chars", "abcd", 1},
		{"five chars rounds up", "abcde", 2},
		{"eight chars", "abcdefgh", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTextTokens(tt.in); got != tt.want {
				t.Errorf("EstimateTextTokens(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEstimatePartTokens_ToolPart(t *testing.T) {
	p := models.Part{
		Kind:     models.PartTool,
		ToolName: "grep",
		ToolRawResult: &models.ToolResult{
			Success: true,
			Data:    "matches",
		},
	}
	got := EstimatePartTokens(p)
	if got <= 0 {
		t.Fatalf("EstimatePartTokens(tool part) = %d, want > 0", got)
	}
}

func TestEstimateSessionTokens_SumsAllMessages(t *testing.T) {
	session := &models.Session{
		Messages: []*models.Message{
			{Role: models.RoleUser, Parts: []models.Part{models.NewTextPart("abcd")}},
			{Role: models.RoleAssistant, Parts: []models.Part{models.NewTextPart("abcdefgh")}},
		},
	}
	want := EstimateTextTokens("abcd") + EstimateTextTokens("abcdefgh")
	if got := EstimateSessionTokens(session); got != want {
		t.Errorf("EstimateSessionTokens() = %d, want %d", got, want)
	}
}
