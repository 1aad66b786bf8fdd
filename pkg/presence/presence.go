// Package presence derives online/offline status from session lifecycle
// and fans it out to every conversation the user participates in.
package presence

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eventpulse/chat-service/pkg/hub"
	"github.com/eventpulse/chat-service/pkg/logging"
	"github.com/eventpulse/chat-service/pkg/model"
)

// ParticipantSource lists the conversations a user is an active
// participant of. Presence fans out over participant records, not room
// membership: a user can be online without having joined any room yet.
type ParticipantSource interface {
	ParticipantConversations(ctx context.Context, userID string) ([]string, error)
}

// Tracker broadcasts user_online/user_offline and keeps the optional Redis
// mirror (`conversation:<id>:online` sets) for REST presence queries. The
// registry stays authoritative; the mirror is best-effort.
type Tracker struct {
	registry *hub.Registry
	source   ParticipantSource
	redis    *redis.Client // nil disables the mirror
	log      zerolog.Logger
}

func NewTracker(registry *hub.Registry, source ParticipantSource, rdb *redis.Client) *Tracker {
	return &Tracker{
		registry: registry,
		source:   source,
		redis:    rdb,
		log:      logging.With("presence"),
	}
}

// UserConnected handles a session connect. Only the user's first live
// session produces a broadcast; extra tabs are silent.
func (t *Tracker) UserConnected(ctx context.Context, userID string, firstSession bool) {
	if !firstSession {
		return
	}
	t.fanOut(ctx, userID, true)
}

// UserDisconnected handles a session disconnect; only the last session
// going away produces a broadcast.
func (t *Tracker) UserDisconnected(ctx context.Context, userID string, lastSession bool) {
	if !lastSession {
		return
	}
	t.fanOut(ctx, userID, false)
}

func (t *Tracker) fanOut(ctx context.Context, userID string, online bool) {
	convs, err := t.source.ParticipantConversations(ctx, userID)
	if err != nil {
		t.log.Error().Err(err).Str("user_id", userID).Msg("participant lookup failed, presence not broadcast")
		return
	}

	eventType := model.EventUserOffline
	if online {
		eventType = model.EventUserOnline
	}
	for _, convID := range convs {
		t.registry.Broadcast(convID, model.PresenceEvent{Type: eventType, UserID: userID}, nil)
		t.mirror(ctx, convID, userID, online)
	}
	t.log.Debug().Str("user_id", userID).Bool("online", online).Int("conversations", len(convs)).Msg("presence broadcast")
}

func (t *Tracker) mirror(ctx context.Context, conversationID, userID string, online bool) {
	if t.redis == nil {
		return
	}
	key := "conversation:" + conversationID + ":online"
	var err error
	if online {
		err = t.redis.SAdd(ctx, key, userID).Err()
	} else {
		err = t.redis.SRem(ctx, key, userID).Err()
	}
	if err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("presence mirror update failed")
	}
}

// IsUserOnline reports live status from the registry.
func (t *Tracker) IsUserOnline(userID string) bool {
	return t.registry.IsUserOnline(userID)
}

// Online returns the mirrored online-user set for a conversation. Without
// a Redis mirror it returns an empty list.
func (t *Tracker) Online(ctx context.Context, conversationID string) ([]string, error) {
	if t.redis == nil {
		return nil, nil
	}
	return t.redis.SMembers(ctx, "conversation:"+conversationID+":online").Result()
}
