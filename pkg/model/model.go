package model

import "time"

// User is reference data owned by the identity service. The chat service
// only ever reads it.
type User struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	AvatarRef     string `json:"avatar_ref,omitempty"`
	ProfilePublic bool   `json:"profile_public"`
}

type Conversation struct {
	ID        string    `json:"id"`
	EventRef  string    `json:"event_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant records membership in a conversation. Rows are never deleted;
// leaving flips IsActive so membership history survives.
type Participant struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	IsActive       bool       `json:"is_active"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	JoinedAt       time.Time  `json:"joined_at"`
}

// Message is immutable once written, except for the soft-delete flag.
// IDs are snowflakes, so (CreatedAt, ID) is a total order even for
// messages created in the same millisecond.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	IsDeleted      bool      `json:"is_deleted"`
}

// ConversationSummary is the per-user view returned by the conversation
// list endpoint.
type ConversationSummary struct {
	Conversation
	UnreadCount  int        `json:"unread_count"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}
