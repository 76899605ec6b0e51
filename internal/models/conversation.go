package models

import "time"

// MaxGroupNameLength caps group names after trimming.
const MaxGroupNameLength = 50

// Conversation is either a direct chat between exactly two users or a named
// group. Direct conversations are unique per unordered user pair. GroupName
// and GroupAdmin are only meaningful when IsGroupChat is set.
type Conversation struct {
	ID            int       `db:"id" json:"id"`
	IsGroupChat   bool      `db:"is_group" json:"isGroupChat"`
	GroupName     string    `db:"group_name" json:"groupName,omitempty"`
	GroupAdmin    *int      `db:"group_admin" json:"groupAdmin,omitempty"`
	LastMessageID *int      `db:"last_message_id" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`

	// Participants is filled from the participants table, not scanned
	// directly from the conversations row.
	Participants []int `db:"-" json:"participants"`
}
