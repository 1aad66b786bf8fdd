// Package hub owns the in-memory, per-process state of the real-time
// layer: connected sessions, room membership and typing indicators. All of
// it is advisory fan-out state; authorization always goes back to the
// store.
package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/eventpulse/chat-service/pkg/logging"
)

var sessionIDs atomic.Uint64

// Session is one live connection for one user. A user may hold several
// sessions (tabs, devices); each gets its own outbound queue.
type Session struct {
	id     uint64
	userID string

	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func NewSession(userID string) *Session {
	return &Session{
		id:     sessionIDs.Add(1),
		userID: userID,
		out:    make(chan []byte, 256),
	}
}

func (s *Session) ID() uint64     { return s.id }
func (s *Session) UserID() string { return s.userID }

// Outbound exposes the send queue to the transport write loop.
func (s *Session) Outbound() <-chan []byte { return s.out }

// push queues a frame without blocking. False means the session is closed
// or its queue is full (a slow client that should be evicted).
func (s *Session) push(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// Registry maps conversations to sessions and users to sessions. It is
// constructed once at startup and injected everywhere that needs fan-out;
// nothing here is module-level state.
type Registry struct {
	mu           sync.RWMutex
	rooms        map[string]map[*Session]struct{}
	users        map[string]map[*Session]struct{}
	sessionRooms map[*Session]map[string]struct{}
	log          zerolog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:        make(map[string]map[*Session]struct{}),
		users:        make(map[string]map[*Session]struct{}),
		sessionRooms: make(map[*Session]map[string]struct{}),
		log:          logging.With("registry"),
	}
}

// Register adds a session to the user index. Returns true when this is the
// user's first live session (an offline -> online transition).
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	first := len(r.users[s.userID]) == 0
	if r.users[s.userID] == nil {
		r.users[s.userID] = make(map[*Session]struct{})
	}
	r.users[s.userID][s] = struct{}{}
	r.sessionRooms[s] = make(map[string]struct{})

	r.log.Debug().Uint64("session_id", s.id).Str("user_id", s.userID).Msg("session registered")
	return first
}

// Unregister drops the session from every room and the user index, closes
// its queue, and reports the rooms it was in plus whether the user just
// went offline.
func (r *Registry) Unregister(s *Session) (rooms []string, lastSession bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for convID := range r.sessionRooms[s] {
		r.removeFromRoom(s, convID)
		rooms = append(rooms, convID)
	}
	delete(r.sessionRooms, s)

	if set, ok := r.users[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.users, s.userID)
			lastSession = true
		}
	}
	s.close()

	r.log.Debug().Uint64("session_id", s.id).Str("user_id", s.userID).Bool("last_session", lastSession).Msg("session unregistered")
	return rooms, lastSession
}

// Join is idempotent; joining a room twice is a no-op.
func (r *Registry) Join(s *Session, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[conversationID] == nil {
		r.rooms[conversationID] = make(map[*Session]struct{})
	}
	r.rooms[conversationID][s] = struct{}{}
	if r.sessionRooms[s] == nil {
		r.sessionRooms[s] = make(map[string]struct{})
	}
	r.sessionRooms[s][conversationID] = struct{}{}
}

// Leave is idempotent; leaving a room the session is not in is a no-op.
func (r *Registry) Leave(s *Session, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeFromRoom(s, conversationID)
	delete(r.sessionRooms[s], conversationID)
}

func (r *Registry) removeFromRoom(s *Session, conversationID string) {
	if set, ok := r.rooms[conversationID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.rooms, conversationID)
		}
	}
}

// InRoom reports whether the session currently has the room joined.
func (r *Registry) InRoom(s *Session, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessionRooms[s][conversationID]
	return ok
}

// IsUserOnline reports whether the user has at least one live session.
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Broadcast delivers payload to every session joined to the room, minus
// exclude. A slow session gets its queue closed instead of blocking the
// room; the map cleanup and the presence transition stay with the normal
// disconnect path, which runs Unregister when the transport tears down.
func (r *Registry) Broadcast(conversationID string, payload any, exclude *Session) {
	frame, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal broadcast payload")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for s := range r.rooms[conversationID] {
		if s == exclude {
			continue
		}
		if !s.push(frame) {
			r.log.Warn().Uint64("session_id", s.id).Str("user_id", s.userID).Msg("closing slow session")
			s.close()
		}
	}
}

// BroadcastToUser delivers payload to every live session of one user,
// regardless of room membership.
func (r *Registry) BroadcastToUser(userID string, payload any) {
	frame, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal user payload")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for s := range r.users[userID] {
		s.push(frame)
	}
}

// Emit sends payload to a single session.
func (r *Registry) Emit(s *Session, payload any) {
	frame, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal emit payload")
		return
	}
	s.push(frame)
}
