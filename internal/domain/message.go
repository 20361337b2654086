package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a message typed by the visitor.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the model.
	RoleAssistant Role = "assistant"
)

// Message is a single immutable conversation entry.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TranscriptEntry is one message as written to the transcript log.
type TranscriptEntry struct {
	SessionKey     string
	ConversationID string
	Seq            int
	Message        Message
	CreatedAt      time.Time
}
