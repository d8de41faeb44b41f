// Package models defines the wire-level domain types shared by every
// CodeSage subsystem: sessions, messages, embedding fragments, learning
// records, and the self-evolution state machine. Types here carry JSON
// tags for IDE-host interop but never import an internal package.
package models

import "time"

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Session is an append-only conversation thread. A sub-session created
// for tool isolation carries a non-empty ParentSessionID and is only
// valid for the lifetime of the parent's current turn.
type Session struct {
	ID             string    `json:"id"`
	ProjectKey     string    `json:"project_key"`
	ParentSessionID string   `json:"parent_session_id,omitempty"`
	Messages       []*Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AppendMessage appends a message to the session and bumps UpdatedAt.
// Messages are append-only: callers must not mutate earlier entries.
func (s *Session) AppendMessage(m *Message) {
	s.Messages = append(s.Messages, m)
	s.UpdatedAt = m.CreatedAt
}

// Message is one turn in a Session. Only assistant messages may contain
// Tool parts.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// Text concatenates the text content of all Text parts in the message,
// which is the common case for rendering a plain assistant reply.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}
