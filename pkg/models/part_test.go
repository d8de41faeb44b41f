package models

import "testing"

func TestToolPartState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from ToolPartState
		to   ToolPartState
		want bool
	}{
		{"pending to running", ToolPending, ToolRunning, true},
		{"running to completed", ToolRunning, ToolCompleted, true},
		{"running to error", ToolRunning, ToolError, true},
		{"pending to completed skips running", ToolPending, ToolCompleted, false},
		{"completed is terminal", ToolCompleted, ToolRunning, false},
		{"error is terminal", ToolError, ToolRunning, false},
		{"running to pending is backward", ToolRunning, ToolPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestPart_Transition(t *testing.T) {
	p := NewPendingToolPart("grep_file", map[string]any{"pattern": "TODO"})
	if !p.Transition(ToolRunning) {
		t.Fatal("expected Pending -> Running to succeed")
	}
	if p.ToolState != ToolRunning {
		t.Fatalf("ToolState = %s, want %s", p.ToolState, ToolRunning)
	}
	if p.Transition(ToolPending) {
		t.Fatal("expected Running -> Pending to fail")
	}
	if !p.Transition(ToolCompleted) {
		t.Fatal("expected Running -> Completed to succeed")
	}
	if p.Transition(ToolError) {
		t.Fatal("expected terminal state to reject further transitions")
	}
}

func TestSession_AppendMessage(t *testing.T) {
	s := &Session{ID: "s1", ProjectKey: "proj"}
	m1 := &Message{ID: "m1", Role: RoleUser, Parts: []Part{NewTextPart("hi")}}
	s.AppendMessage(m1)
	if len(s.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(s.Messages))
	}
	m2 := &Message{ID: "m2", Role: RoleAssistant, Parts: []Part{NewTextPart("hello")}}
	s.AppendMessage(m2)
	if len(s.Messages) != 2 || s.Messages[0] != m1 || s.Messages[1] != m2 {
		t.Fatal("AppendMessage must preserve causal order")
	}
}
