// Package store is the durable side of the chat service: messages,
// conversations, participant rows and read cursors.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventpulse/chat-service/pkg/model"
)

var (
	ErrNotAParticipant = errors.New("not an active participant")
	ErrEmptyContent    = errors.New("empty message content")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
)

// Cursor is a stable pagination position: the (created_at, id) pair of the
// oldest message already seen. Offsets are never used because they shift
// under concurrent inserts.
type Cursor struct {
	CreatedAtMillis int64 `json:"created_at_millis"`
	ID              int64 `json:"id"`
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d:%d", c.CreatedAtMillis, c.ID)
}

// ParseCursor parses the "millis:id" form produced by String. A nil
// result means "start from now".
func ParseCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	var c Cursor
	if _, err := fmt.Sscanf(s, "%d:%d", &c.CreatedAtMillis, &c.ID); err != nil {
		return nil, fmt.Errorf("bad cursor %q: %w", s, err)
	}
	return &c, nil
}

// RecentOptions controls history reads.
type RecentOptions struct {
	Limit int
	// Before restricts results to messages strictly older than the
	// cursor position; nil starts from the newest message.
	Before *Cursor
	// IncludeDeleted surfaces soft-deleted messages; audit contexts only.
	IncludeDeleted bool
}

// Store is the durable message log plus participant bookkeeping. The
// Scylla implementation is authoritative; the memory implementation backs
// tests and local development.
type Store interface {
	// Append persists a message and advances the sender's read cursor in
	// the same atomic unit. Fails with ErrNotAParticipant or
	// ErrEmptyContent.
	Append(ctx context.Context, conversationID, senderID, content string) (*model.Message, error)

	// Recent returns messages in ascending (created_at, id) order,
	// paginating backwards from opts.Before.
	Recent(ctx context.Context, conversationID string, opts RecentOptions) ([]model.Message, error)

	// SoftDelete flags a message deleted. Only the sender may delete;
	// deleting an already-deleted message is a no-op.
	SoftDelete(ctx context.Context, messageID int64, requesterID string) error

	// MarkRead sets the participant's read cursor to now.
	MarkRead(ctx context.Context, conversationID, userID string) error

	// UnreadCount counts non-deleted messages newer than the user's read
	// cursor that were sent by someone else.
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)

	IsActiveParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// ParticipantConversations lists conversation ids the user is an
	// active participant of. Presence broadcasts fan out over this, not
	// over room membership.
	ParticipantConversations(ctx context.Context, userID string) ([]string, error)

	// CreateConversation creates a conversation with the given active
	// participants. At least two are required.
	CreateConversation(ctx context.Context, eventRef string, participantIDs []string) (*model.Conversation, error)

	// DeactivateParticipant flips is_active off; the row is retained.
	DeactivateParticipant(ctx context.Context, conversationID, userID string) error

	// Conversations returns the per-user conversation list with unread
	// counts.
	Conversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)

	GetUser(ctx context.Context, userID string) (*model.User, error)
}
