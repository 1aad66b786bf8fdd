// Package router interprets inbound protocol events against the gate, the
// store and the room registry, and emits the outbound events. One router
// instance serves every connection; per-connection ordering comes from the
// transport's sequential read loop.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eventpulse/chat-service/pkg/auth"
	"github.com/eventpulse/chat-service/pkg/firehose"
	"github.com/eventpulse/chat-service/pkg/hub"
	"github.com/eventpulse/chat-service/pkg/logging"
	"github.com/eventpulse/chat-service/pkg/model"
	"github.com/eventpulse/chat-service/pkg/presence"
	"github.com/eventpulse/chat-service/pkg/store"
)

type Router struct {
	store        store.Store
	gate         *auth.Gate
	registry     *hub.Registry
	typing       *hub.TypingTracker
	presence     *presence.Tracker
	firehose     *firehose.Publisher // nil disables the feed
	historyLimit int
	timeout      time.Duration
	log          zerolog.Logger
}

func New(st store.Store, gate *auth.Gate, registry *hub.Registry, typing *hub.TypingTracker, pres *presence.Tracker, fh *firehose.Publisher, historyLimit int, timeout time.Duration) *Router {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{
		store:        st,
		gate:         gate,
		registry:     registry,
		typing:       typing,
		presence:     pres,
		firehose:     fh,
		historyLimit: historyLimit,
		timeout:      timeout,
		log:          logging.With("router"),
	}
}

// Connected implements hub.EventHandler.
func (r *Router) Connected(s *hub.Session) {
	first := r.registry.Register(s)
	ctx, cancel := r.opCtx()
	defer cancel()
	r.presence.UserConnected(ctx, s.UserID(), first)
}

// Disconnected implements hub.EventHandler.
func (r *Router) Disconnected(s *hub.Session) {
	rooms, last := r.registry.Unregister(s)
	for _, convID := range rooms {
		r.typing.Stop(convID, s.UserID())
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	r.presence.UserDisconnected(ctx, s.UserID(), last)
}

// HandleEvent implements hub.EventHandler. Every precondition failure goes
// back to the originating session only, as a typed error frame, with no
// state changed.
func (r *Router) HandleEvent(s *hub.Session, raw []byte) {
	var ev model.ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		r.registry.Emit(s, model.NewError(model.CodeUnknownEvent, "malformed event payload"))
		return
	}

	switch ev.Type {
	case model.EventJoinConversation:
		r.handleJoin(s, ev.ConversationID)
	case model.EventLeaveConversation:
		r.handleLeave(s, ev.ConversationID)
	case model.EventSendMessage:
		r.handleSend(s, ev.ConversationID, ev.Content)
	case model.EventTypingStart:
		r.handleTyping(s, ev.ConversationID, true)
	case model.EventTypingStop:
		r.handleTyping(s, ev.ConversationID, false)
	case model.EventMarkRead:
		r.handleMarkRead(s, ev.ConversationID)
	default:
		// Unknown types are rejected, not swallowed.
		r.registry.Emit(s, model.NewError(model.CodeUnknownEvent, "unknown event type "+string(ev.Type)))
	}
}

func (r *Router) handleJoin(s *hub.Session, conversationID string) {
	ctx, cancel := r.opCtx()
	defer cancel()

	if !r.requireParticipant(ctx, s, conversationID) {
		return
	}

	// Everything fallible happens before the room mutation so a failure
	// leaves no partial state.
	if err := r.store.MarkRead(ctx, conversationID, s.UserID()); err != nil {
		r.fail(s, err, "join failed")
		return
	}
	history, err := r.store.Recent(ctx, conversationID, store.RecentOptions{Limit: r.historyLimit})
	if err != nil {
		r.fail(s, err, "history fetch failed")
		return
	}

	r.registry.Join(s, conversationID)
	r.registry.Emit(s, model.NewJoined(conversationID))
	r.registry.Emit(s, model.NewHistory(conversationID, history))
	r.log.Debug().Str("conversation_id", conversationID).Str("user_id", s.UserID()).Msg("joined conversation")
}

func (r *Router) handleLeave(s *hub.Session, conversationID string) {
	if !r.registry.InRoom(s, conversationID) {
		r.registry.Emit(s, model.NewError(model.CodeNotFound, "not joined to this conversation"))
		return
	}
	r.registry.Leave(s, conversationID)
	r.typing.Stop(conversationID, s.UserID())
	r.registry.Emit(s, model.NewLeft(conversationID))
}

func (r *Router) handleSend(s *hub.Session, conversationID, content string) {
	ctx, cancel := r.opCtx()
	defer cancel()

	if !r.requireParticipant(ctx, s, conversationID) {
		return
	}
	if !r.requireVisibility(ctx, s) {
		return
	}

	msg, err := r.store.Append(ctx, conversationID, s.UserID(), content)
	if err != nil {
		// No retry on writes: the client decides whether to resend, which
		// keeps at-least-once instead of accidental duplicates.
		r.fail(s, err, "message not sent")
		return
	}

	// Broadcast strictly after the commit; the persisted order is the
	// authoritative one. Sender included for multi-device consistency.
	r.firehose.Publish(ctx, msg)
	r.registry.Broadcast(conversationID, model.NewMessageEvent{Type: model.EventNewMessage, Message: *msg}, nil)
	r.registry.Emit(s, model.MessageDeliveredEvent{Type: model.EventMessageDelivered, MessageID: msg.ID})
	r.typing.Stop(conversationID, s.UserID())
}

func (r *Router) handleTyping(s *hub.Session, conversationID string, start bool) {
	if !r.registry.InRoom(s, conversationID) {
		r.registry.Emit(s, model.NewError(model.CodeNotAParticipant, "join the conversation before typing"))
		return
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	if !r.requireVisibility(ctx, s) {
		return
	}

	if start {
		r.typing.Start(conversationID, s.UserID())
	} else {
		r.typing.Stop(conversationID, s.UserID())
	}
	r.registry.Broadcast(conversationID, model.TypingIndicatorEvent{
		Type:           model.EventTypingIndicator,
		ConversationID: conversationID,
		UserID:         s.UserID(),
		IsTyping:       start,
	}, s)
}

func (r *Router) handleMarkRead(s *hub.Session, conversationID string) {
	ctx, cancel := r.opCtx()
	defer cancel()

	if !r.requireParticipant(ctx, s, conversationID) {
		return
	}
	if err := r.store.MarkRead(ctx, conversationID, s.UserID()); err != nil {
		r.fail(s, err, "mark read failed")
		return
	}
	r.registry.Broadcast(conversationID, model.ReadReceiptEvent{
		Type:           model.EventReadReceipt,
		ConversationID: conversationID,
		UserID:         s.UserID(),
		Timestamp:      time.Now().UTC(),
	}, s)
}

// requireParticipant re-checks authorization against the store on every
// state-changing action. Room membership is never trusted for this:
// it can be stale when a participant was removed mid-session.
func (r *Router) requireParticipant(ctx context.Context, s *hub.Session, conversationID string) bool {
	if conversationID == "" {
		r.registry.Emit(s, model.NewError(model.CodeUnknownEvent, "conversation_id is required"))
		return false
	}
	ok, err := r.gate.AuthorizeParticipant(ctx, s.UserID(), conversationID)
	if err != nil {
		r.fail(s, err, "authorization check failed")
		return false
	}
	if !ok {
		r.registry.Emit(s, model.NewError(model.CodeNotAParticipant, "not a participant of this conversation"))
		return false
	}
	return true
}

func (r *Router) requireVisibility(ctx context.Context, s *hub.Session) bool {
	ok, err := r.gate.AuthorizeVisibility(ctx, s.UserID())
	if err != nil {
		r.fail(s, err, "visibility check failed")
		return false
	}
	if !ok {
		r.registry.Emit(s, model.NewError(model.CodeForbidden, "messaging requires a public profile"))
		return false
	}
	return true
}

func (r *Router) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Router) fail(s *hub.Session, err error, msg string) {
	r.registry.Emit(s, model.NewError(codeFor(err), msg))
	r.log.Debug().Err(err).Str("user_id", s.UserID()).Msg(msg)
}

func codeFor(err error) model.ErrorCode {
	switch {
	case errors.Is(err, store.ErrNotAParticipant):
		return model.CodeNotAParticipant
	case errors.Is(err, store.ErrEmptyContent):
		return model.CodeEmptyContent
	case errors.Is(err, store.ErrNotFound):
		return model.CodeNotFound
	case errors.Is(err, store.ErrForbidden):
		return model.CodeForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return model.CodeTimeout
	default:
		return model.CodeInternal
	}
}
