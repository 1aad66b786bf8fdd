package hub

import (
	"sync"
	"time"
)

// TypingTracker holds self-expiring typing state. It is a UI hint only:
// nothing authoritative derives from it, and it is lost on restart.
type TypingTracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	typing map[string]map[string]time.Time // conversationID -> userID -> expiry
	now    func() time.Time
}

func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &TypingTracker{
		ttl:    ttl,
		typing: make(map[string]map[string]time.Time),
		now:    time.Now,
	}
}

// Start marks the user as typing until the TTL elapses or Stop is called.
func (t *TypingTracker) Start(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.typing[conversationID] == nil {
		t.typing[conversationID] = make(map[string]time.Time)
	}
	t.typing[conversationID][userID] = t.now().Add(t.ttl)
}

func (t *TypingTracker) Stop(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.typing[conversationID]; m != nil {
		delete(m, userID)
		if len(m) == 0 {
			delete(t.typing, conversationID)
		}
	}
}

// IsTyping reports whether the user's typing state is still live. Expired
// entries are reaped lazily here; no background sweeper is needed.
func (t *TypingTracker) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.typing[conversationID]
	if m == nil {
		return false
	}
	expiry, ok := m[userID]
	if !ok {
		return false
	}
	if t.now().After(expiry) {
		delete(m, userID)
		if len(m) == 0 {
			delete(t.typing, conversationID)
		}
		return false
	}
	return true
}
