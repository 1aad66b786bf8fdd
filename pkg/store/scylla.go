package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/eventpulse/chat-service/pkg/db"
	"github.com/eventpulse/chat-service/pkg/model"
	"github.com/eventpulse/chat-service/pkg/snowflake"
)

// ScyllaStore is the durable Store implementation. Messages cluster by
// (created_at DESC, id DESC) inside a conversation partition, so the
// pagination cursor maps directly onto a clustering-key range.
type ScyllaStore struct {
	session *db.Session
	ids     *snowflake.Node
}

func NewScyllaStore(session *db.Session, ids *snowflake.Node) *ScyllaStore {
	return &ScyllaStore{session: session, ids: ids}
}

func (s *ScyllaStore) Append(ctx context.Context, conversationID, senderID, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	ok, err := s.IsActiveParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAParticipant
	}

	msg := &model.Message{
		ID:             s.ids.Generate(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}

	// One logged batch: the message, its id lookup row, the sender's
	// read cursor (sending implies having read), and conversation
	// activity. Either all land or none do.
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages (conversation_id, created_at, id, sender_id, content, is_deleted) VALUES (?, ?, ?, ?, ?, false)`,
		msg.ConversationID, msg.CreatedAt, msg.ID, msg.SenderID, msg.Content)
	batch.Query(`INSERT INTO messages_by_id (id, conversation_id, created_at, sender_id, is_deleted) VALUES (?, ?, ?, ?, false)`,
		msg.ID, msg.ConversationID, msg.CreatedAt, msg.SenderID)
	batch.Query(`UPDATE conversation_participants SET last_read_at = ? WHERE conversation_id = ? AND user_id = ?`,
		msg.CreatedAt, msg.ConversationID, msg.SenderID)
	batch.Query(`UPDATE conversations SET last_activity = ? WHERE id = ?`,
		msg.CreatedAt, msg.ConversationID)

	if err := s.session.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *ScyllaStore) Recent(ctx context.Context, conversationID string, opts RecentOptions) ([]model.Message, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	var iter *gocql.Iter
	if opts.Before != nil {
		iter = s.session.Query(`SELECT created_at, id, sender_id, content, is_deleted FROM messages
			WHERE conversation_id = ? AND (created_at, id) < (?, ?)`,
			conversationID, time.UnixMilli(opts.Before.CreatedAtMillis).UTC(), opts.Before.ID).
			WithContext(ctx).Iter()
	} else {
		iter = s.session.Query(`SELECT created_at, id, sender_id, content, is_deleted FROM messages
			WHERE conversation_id = ?`, conversationID).
			WithContext(ctx).Iter()
	}

	// Rows arrive newest-first; collect up to limit and flip to
	// chronological order for the caller.
	var desc []model.Message
	var m model.Message
	for iter.Scan(&m.CreatedAt, &m.ID, &m.SenderID, &m.Content, &m.IsDeleted) {
		if m.IsDeleted && !opts.IncludeDeleted {
			continue
		}
		m.ConversationID = conversationID
		desc = append(desc, m)
		if len(desc) == opts.Limit {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	asc := make([]model.Message, len(desc))
	for i, msg := range desc {
		asc[len(desc)-1-i] = msg
	}
	return asc, nil
}

func (s *ScyllaStore) SoftDelete(ctx context.Context, messageID int64, requesterID string) error {
	var conversationID, senderID string
	var createdAt time.Time
	var deleted bool
	err := s.session.Query(`SELECT conversation_id, created_at, sender_id, is_deleted FROM messages_by_id WHERE id = ?`, messageID).
		WithContext(ctx).Scan(&conversationID, &createdAt, &senderID, &deleted)
	if errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}
	if senderID != requesterID {
		return fmt.Errorf("message %d belongs to %s: %w", messageID, senderID, ErrForbidden)
	}
	if deleted {
		return nil
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`UPDATE messages SET is_deleted = true WHERE conversation_id = ? AND created_at = ? AND id = ?`,
		conversationID, createdAt, messageID)
	batch.Query(`UPDATE messages_by_id SET is_deleted = true WHERE id = ?`, messageID)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	return nil
}

func (s *ScyllaStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	ok, err := s.IsActiveParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAParticipant
	}

	// CQL updates are upserts; the participant check above keeps this
	// from fabricating membership rows.
	err = s.session.Query(`UPDATE conversation_participants SET last_read_at = ? WHERE conversation_id = ? AND user_id = ?`,
		time.Now().UTC().Truncate(time.Millisecond), conversationID, userID).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *ScyllaStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var lastRead time.Time
	err := s.session.Query(`SELECT last_read_at FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID).WithContext(ctx).Scan(&lastRead)
	if errors.Is(err, gocql.ErrNotFound) {
		return 0, ErrNotAParticipant
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}

	iter := s.session.Query(`SELECT sender_id, is_deleted FROM messages WHERE conversation_id = ? AND created_at > ?`,
		conversationID, lastRead).WithContext(ctx).Iter()

	count := 0
	var senderID string
	var deleted bool
	for iter.Scan(&senderID, &deleted) {
		if !deleted && senderID != userID {
			count++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *ScyllaStore) IsActiveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var active bool
	err := s.session.Query(`SELECT is_active FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID).WithContext(ctx).Scan(&active)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("participant lookup: %w", err)
	}
	return active, nil
}

func (s *ScyllaStore) ParticipantConversations(ctx context.Context, userID string) ([]string, error) {
	iter := s.session.Query(`SELECT conversation_id, is_active FROM participant_conversations WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()

	var ids []string
	var id string
	var active bool
	for iter.Scan(&id, &active) {
		if active {
			ids = append(ids, id)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return ids, nil
}

func (s *ScyllaStore) CreateConversation(ctx context.Context, eventRef string, participantIDs []string) (*model.Conversation, error) {
	if len(participantIDs) < 2 {
		return nil, fmt.Errorf("conversation needs at least 2 participants, got %d", len(participantIDs))
	}

	conv := &model.Conversation{
		ID:        uuid.NewString(),
		EventRef:  eventRef,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO conversations (id, event_ref, created_at, last_activity) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.EventRef, conv.CreatedAt, conv.CreatedAt)
	for _, uid := range participantIDs {
		batch.Query(`INSERT INTO conversation_participants (conversation_id, user_id, is_active, joined_at) VALUES (?, ?, true, ?)`,
			conv.ID, uid, conv.CreatedAt)
		batch.Query(`INSERT INTO participant_conversations (user_id, conversation_id, is_active) VALUES (?, ?, true)`,
			uid, conv.ID)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *ScyllaStore) DeactivateParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.IsActiveParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAParticipant
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`UPDATE conversation_participants SET is_active = false WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID)
	batch.Query(`UPDATE participant_conversations SET is_active = false WHERE user_id = ? AND conversation_id = ?`,
		userID, conversationID)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("deactivate participant: %w", err)
	}
	return nil
}

func (s *ScyllaStore) Conversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	ids, err := s.ParticipantConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ConversationSummary, 0, len(ids))
	for _, id := range ids {
		var sum model.ConversationSummary
		var lastActivity time.Time
		err := s.session.Query(`SELECT id, event_ref, created_at, last_activity FROM conversations WHERE id = ?`, id).
			WithContext(ctx).Scan(&sum.ID, &sum.EventRef, &sum.CreatedAt, &lastActivity)
		if errors.Is(err, gocql.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("conversation %s: %w", id, err)
		}
		if !lastActivity.IsZero() {
			la := lastActivity
			sum.LastActivity = &la
		}
		if sum.UnreadCount, err = s.UnreadCount(ctx, id, userID); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

func (s *ScyllaStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.session.Query(`SELECT id, display_name, avatar_ref, profile_public FROM users WHERE id = ?`, userID).
		WithContext(ctx).Scan(&u.ID, &u.DisplayName, &u.AvatarRef, &u.ProfilePublic)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	return &u, nil
}

// ArchiveMessage writes an audit copy of a committed message. Used by the
// archiver service, never by the request path.
func (s *ScyllaStore) ArchiveMessage(ctx context.Context, msg *model.Message) error {
	err := s.session.Query(`INSERT INTO message_archive (conversation_id, created_at, id, sender_id, content) VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.CreatedAt, msg.ID, msg.SenderID, msg.Content).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	return nil
}
