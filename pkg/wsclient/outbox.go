package wsclient

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventpulse/chat-service/pkg/model"
)

// Pending is a message the client has sent but the server has not yet
// confirmed. Temp ids are client-local and never compared against
// server-assigned message ids.
type Pending struct {
	TempID         string
	ConversationID string
	SenderID       string
	Content        string
	SentAt         time.Time
}

// Outbox reconciles optimistic sends against broadcast new_message events
// by matching (sender, content) within a time window — the server id and
// the temp id are unrelated namespaces.
type Outbox struct {
	mu      sync.Mutex
	window  time.Duration
	pending []Pending
	now     func() time.Time
}

func NewOutbox(window time.Duration) *Outbox {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Outbox{window: window, now: time.Now}
}

// Add records an optimistic send and returns its temp id.
func (o *Outbox) Add(conversationID, senderID, content string) Pending {
	p := Pending{
		TempID:         uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         o.now(),
	}
	o.mu.Lock()
	o.pending = append(o.pending, p)
	o.mu.Unlock()
	return p
}

// Confirm matches an incoming message against the oldest compatible
// pending entry. Returns the temp id it resolves, or false when the
// message was not one of ours (or arrived outside the window).
func (o *Outbox) Confirm(msg model.Message) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.now().Add(-o.window)
	for i, p := range o.pending {
		if p.SentAt.Before(cutoff) {
			continue
		}
		if p.ConversationID == msg.ConversationID && p.SenderID == msg.SenderID && p.Content == msg.Content {
			o.pending = append(o.pending[:i], o.pending[i+1:]...)
			return p.TempID, true
		}
	}
	return "", false
}

// Expired drains entries older than the window: these are the "failed to
// send, offer retry" set.
func (o *Outbox) Expired() []Pending {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.now().Add(-o.window)
	var expired, live []Pending
	for _, p := range o.pending {
		if p.SentAt.Before(cutoff) {
			expired = append(expired, p)
		} else {
			live = append(live, p)
		}
	}
	o.pending = live
	return expired
}

// Len reports outstanding optimistic sends.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
