package models

import (
	"time"

	"github.com/lib/pq"
)

// MaxMessageLength caps message content after trimming.
const MaxMessageLength = 1000

// Message represents a message inside a conversation. Timestamp is the
// creation instant and never changes, even after an edit. ReadBy lists the
// participants who have observed the message; the sender is never included.
type Message struct {
	ID             int           `db:"id" json:"id"`
	ConversationID int           `db:"conversation_id" json:"conversationId"`
	SenderID       int           `db:"sender_id" json:"senderId"`
	Content        string        `db:"content" json:"content"`
	IsEdited       bool          `db:"is_edited" json:"isEdited"`
	IsDeleted      bool          `db:"is_deleted" json:"isDeleted"`
	Timestamp      time.Time     `db:"created_at" json:"timestamp"`
	ReadBy         pq.Int64Array `db:"read_by" json:"readBy"`
}

// Sanitized returns a rendering-safe copy: a tombstoned message keeps its
// flags and timestamps but loses its content. Storage retains the original.
func (m Message) Sanitized() Message {
	if m.IsDeleted {
		m.Content = ""
	}
	return m
}

// UnreadSummary is the per-conversation unread count for one user.
type UnreadSummary struct {
	ConversationID int `db:"conversation_id" json:"conversationId"`
	Unread         int `db:"unread" json:"unread"`
}
