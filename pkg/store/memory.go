package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventpulse/chat-service/pkg/model"
	"github.com/eventpulse/chat-service/pkg/snowflake"
)

// MemoryStore implements Store with in-process maps. It backs unit tests
// and local development (CHAT_SCYLLA_HOSTS unset); semantics mirror the
// Scylla implementation exactly.
type MemoryStore struct {
	mu            sync.RWMutex
	ids           *snowflake.Node
	users         map[string]model.User
	conversations map[string]*model.Conversation
	lastActivity  map[string]time.Time
	participants  map[string]map[string]*model.Participant // conversationID -> userID
	messages      map[string][]*model.Message              // conversationID, ascending order
	byID          map[int64]*model.Message
	archive       []model.Message
}

func NewMemoryStore() *MemoryStore {
	node, _ := snowflake.NewNode(0)
	return &MemoryStore{
		ids:           node,
		users:         make(map[string]model.User),
		conversations: make(map[string]*model.Conversation),
		lastActivity:  make(map[string]time.Time),
		participants:  make(map[string]map[string]*model.Participant),
		messages:      make(map[string][]*model.Message),
		byID:          make(map[int64]*model.Message),
	}
}

// PutUser seeds identity reference data.
func (s *MemoryStore) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStore) Append(ctx context.Context, conversationID, senderID, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.participants[conversationID][senderID]
	if p == nil || !p.IsActive {
		return nil, ErrNotAParticipant
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:             s.ids.Generate(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.byID[msg.ID] = msg
	s.lastActivity[conversationID] = now
	readAt := now
	p.LastReadAt = &readAt

	out := *msg
	return &out, nil
}

func (s *MemoryStore) Recent(ctx context.Context, conversationID string, opts RecentOptions) ([]model.Message, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	var out []model.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < opts.Limit; i-- {
		m := msgs[i]
		if opts.Before != nil && !olderThan(m, opts.Before) {
			continue
		}
		if m.IsDeleted && !opts.IncludeDeleted {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func olderThan(m *model.Message, c *Cursor) bool {
	ms := m.CreatedAt.UnixMilli()
	if ms != c.CreatedAtMillis {
		return ms < c.CreatedAtMillis
	}
	return m.ID < c.ID
}

func (s *MemoryStore) SoftDelete(ctx context.Context, messageID int64, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[messageID]
	if !ok {
		return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	if msg.SenderID != requesterID {
		return fmt.Errorf("message %d belongs to %s: %w", messageID, msg.SenderID, ErrForbidden)
	}
	msg.IsDeleted = true
	return nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.participants[conversationID][userID]
	if p == nil || !p.IsActive {
		return ErrNotAParticipant
	}
	now := time.Now().UTC()
	p.LastReadAt = &now
	return nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.participants[conversationID][userID]
	if p == nil {
		return 0, ErrNotAParticipant
	}

	count := 0
	for _, m := range s.messages[conversationID] {
		if m.IsDeleted || m.SenderID == userID {
			continue
		}
		if p.LastReadAt == nil || m.CreatedAt.After(*p.LastReadAt) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) IsActiveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.participants[conversationID][userID]
	return p != nil && p.IsActive, nil
}

func (s *MemoryStore) ParticipantConversations(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for convID, members := range s.participants {
		if p := members[userID]; p != nil && p.IsActive {
			ids = append(ids, convID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, eventRef string, participantIDs []string) (*model.Conversation, error) {
	if len(participantIDs) < 2 {
		return nil, fmt.Errorf("conversation needs at least 2 participants, got %d", len(participantIDs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := &model.Conversation{
		ID:        uuid.NewString(),
		EventRef:  eventRef,
		CreatedAt: time.Now().UTC(),
	}
	s.conversations[conv.ID] = conv
	members := make(map[string]*model.Participant, len(participantIDs))
	for _, uid := range participantIDs {
		members[uid] = &model.Participant{
			ConversationID: conv.ID,
			UserID:         uid,
			IsActive:       true,
			JoinedAt:       conv.CreatedAt,
		}
	}
	s.participants[conv.ID] = members

	out := *conv
	return &out, nil
}

func (s *MemoryStore) DeactivateParticipant(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.participants[conversationID][userID]
	if p == nil || !p.IsActive {
		return ErrNotAParticipant
	}
	p.IsActive = false
	return nil
}

func (s *MemoryStore) Conversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	ids, err := s.ParticipantConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ConversationSummary, 0, len(ids))
	for _, id := range ids {
		s.mu.RLock()
		conv := s.conversations[id]
		la, hasActivity := s.lastActivity[id]
		s.mu.RUnlock()
		if conv == nil {
			continue
		}

		sum := model.ConversationSummary{Conversation: *conv}
		if hasActivity {
			sum.LastActivity = &la
		}
		if sum.UnreadCount, err = s.UnreadCount(ctx, id, userID); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return &u, nil
}

// ArchiveMessage mirrors the Scylla audit table for archiver tests.
func (s *MemoryStore) ArchiveMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = append(s.archive, *msg)
	return nil
}
