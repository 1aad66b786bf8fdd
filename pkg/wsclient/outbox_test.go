package wsclient

import (
	"testing"
	"time"

	"github.com/eventpulse/chat-service/pkg/model"
)

func TestOutboxConfirmMatchesPending(t *testing.T) {
	o := NewOutbox(30 * time.Second)

	p := o.Add("c1", "alice", "hello")
	if p.TempID == "" {
		t.Fatal("no temp id assigned")
	}

	tempID, ok := o.Confirm(model.Message{ID: 999, ConversationID: "c1", SenderID: "alice", Content: "hello"})
	if !ok || tempID != p.TempID {
		t.Fatalf("confirm returned (%q, %v), want (%q, true)", tempID, ok, p.TempID)
	}
	if o.Len() != 0 {
		t.Fatal("confirmed entry still pending")
	}

	// A second identical broadcast has nothing left to match.
	if _, ok := o.Confirm(model.Message{ConversationID: "c1", SenderID: "alice", Content: "hello"}); ok {
		t.Fatal("confirmed twice")
	}
}

func TestOutboxConfirmIgnoresForeignMessages(t *testing.T) {
	o := NewOutbox(30 * time.Second)
	o.Add("c1", "alice", "hello")

	cases := []model.Message{
		{ConversationID: "c2", SenderID: "alice", Content: "hello"},
		{ConversationID: "c1", SenderID: "bob", Content: "hello"},
		{ConversationID: "c1", SenderID: "alice", Content: "different"},
	}
	for _, msg := range cases {
		if _, ok := o.Confirm(msg); ok {
			t.Fatalf("matched foreign message %+v", msg)
		}
	}
	if o.Len() != 1 {
		t.Fatal("pending entry lost")
	}
}

func TestOutboxConfirmOldestFirst(t *testing.T) {
	o := NewOutbox(30 * time.Second)
	first := o.Add("c1", "alice", "hello")
	second := o.Add("c1", "alice", "hello")

	tempID, ok := o.Confirm(model.Message{ConversationID: "c1", SenderID: "alice", Content: "hello"})
	if !ok || tempID != first.TempID {
		t.Fatalf("got %q, want oldest %q", tempID, first.TempID)
	}
	tempID, ok = o.Confirm(model.Message{ConversationID: "c1", SenderID: "alice", Content: "hello"})
	if !ok || tempID != second.TempID {
		t.Fatalf("got %q, want %q", tempID, second.TempID)
	}
}

func TestOutboxWindowExpiry(t *testing.T) {
	o := NewOutbox(30 * time.Second)
	base := time.Now()
	o.now = func() time.Time { return base }

	stale := o.Add("c1", "alice", "stale")
	o.now = func() time.Time { return base.Add(31 * time.Second) }
	live := o.Add("c1", "alice", "live")

	// The stale entry no longer matches.
	if _, ok := o.Confirm(model.Message{ConversationID: "c1", SenderID: "alice", Content: "stale"}); ok {
		t.Fatal("expired entry confirmed")
	}

	expired := o.Expired()
	if len(expired) != 1 || expired[0].TempID != stale.TempID {
		t.Fatalf("expired set: %+v", expired)
	}
	if o.Len() != 1 {
		t.Fatalf("pending = %d, want 1", o.Len())
	}

	if tempID, ok := o.Confirm(model.Message{ConversationID: "c1", SenderID: "alice", Content: "live"}); !ok || tempID != live.TempID {
		t.Fatal("live entry lost during expiry")
	}
}
