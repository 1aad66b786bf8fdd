package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eventpulse/chat-service/pkg/auth"
	"github.com/eventpulse/chat-service/pkg/hub"
	"github.com/eventpulse/chat-service/pkg/model"
	"github.com/eventpulse/chat-service/pkg/presence"
	"github.com/eventpulse/chat-service/pkg/store"
)

type fixture struct {
	store    *store.MemoryStore
	registry *hub.Registry
	router   *Router
	conv     string
}

// newFixture wires a router over the in-memory store with alice and bob
// as active participants of one conversation.
func newFixture(t *testing.T, requirePublic bool) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	for _, u := range []model.User{
		{ID: "alice", DisplayName: "Alice", ProfilePublic: true},
		{ID: "bob", DisplayName: "Bob", ProfilePublic: true},
		{ID: "mallory", DisplayName: "Mallory", ProfilePublic: true},
		{ID: "shy", DisplayName: "Shy", ProfilePublic: false},
	} {
		st.PutUser(u)
	}
	conv, err := st.CreateConversation(context.Background(), "", []string{"alice", "bob", "shy"})
	if err != nil {
		t.Fatal(err)
	}

	registry := hub.NewRegistry()
	gate := auth.NewGate(st, st, requirePublic)
	typing := hub.NewTypingTracker(3 * time.Second)
	pres := presence.NewTracker(registry, st, nil)
	rt := New(st, gate, registry, typing, pres, nil, 50, 5*time.Second)

	return &fixture{store: st, registry: registry, router: rt, conv: conv.ID}
}

func (f *fixture) connect(t *testing.T, userID string) *hub.Session {
	t.Helper()
	s := hub.NewSession(userID)
	f.router.Connected(s)
	return s
}

func (f *fixture) send(s *hub.Session, ev model.ClientEvent) {
	raw, _ := json.Marshal(ev)
	f.router.HandleEvent(s, raw)
}

func recvRaw(t *testing.T, s *hub.Session) []byte {
	t.Helper()
	select {
	case frame, ok := <-s.Outbound():
		if !ok {
			t.Fatal("session queue closed")
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame within 1s")
		return nil
	}
}

func recvType(t *testing.T, s *hub.Session, want model.EventType) []byte {
	t.Helper()
	raw := recvRaw(t, s)
	var envelope struct {
		Type model.EventType `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("bad frame %s: %v", raw, err)
	}
	if envelope.Type != want {
		t.Fatalf("got event %q, want %q (frame: %s)", envelope.Type, want, raw)
	}
	return raw
}

func assertQuiet(t *testing.T, s *hub.Session) {
	t.Helper()
	select {
	case frame := <-s.Outbound():
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func join(t *testing.T, f *fixture, s *hub.Session) {
	t.Helper()
	f.send(s, model.ClientEvent{Type: model.EventJoinConversation, ConversationID: f.conv})
	recvType(t, s, model.EventJoined)
	recvType(t, s, model.EventMessageHistory)
}

func TestSendDeliversToRoom(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")
	b := f.connect(t, "bob")
	join(t, f, a)
	join(t, f, b)

	f.send(a, model.ClientEvent{Type: model.EventSendMessage, ConversationID: f.conv, Content: "hi"})

	// Everyone in the room gets the message, sender included.
	var got model.NewMessageEvent
	if err := json.Unmarshal(recvType(t, b, model.EventNewMessage), &got); err != nil {
		t.Fatal(err)
	}
	if got.Message.Content != "hi" || got.Message.SenderID != "alice" {
		t.Fatalf("bob received wrong message: %+v", got.Message)
	}

	recvType(t, a, model.EventNewMessage)
	var ack model.MessageDeliveredEvent
	if err := json.Unmarshal(recvType(t, a, model.EventMessageDelivered), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.MessageID != got.Message.ID {
		t.Fatalf("delivered ack id %d != broadcast id %d", ack.MessageID, got.Message.ID)
	}
}

func TestNonParticipantSendRejected(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")
	b := f.connect(t, "bob")
	join(t, f, a)
	join(t, f, b)
	m := f.connect(t, "mallory")

	f.send(m, model.ClientEvent{Type: model.EventSendMessage, ConversationID: f.conv, Content: "let me in"})

	var errEv model.ErrorEvent
	if err := json.Unmarshal(recvType(t, m, model.EventError), &errEv); err != nil {
		t.Fatal(err)
	}
	if errEv.Code != model.CodeNotAParticipant {
		t.Fatalf("got code %q", errEv.Code)
	}
	// The error goes to mallory only; the room hears nothing.
	assertQuiet(t, a)
	assertQuiet(t, b)

	msgs, _ := f.store.Recent(context.Background(), f.conv, store.RecentOptions{Limit: 10})
	if len(msgs) != 0 {
		t.Fatal("rejected send persisted a message")
	}
}

func TestNonParticipantJoinRejected(t *testing.T) {
	f := newFixture(t, false)
	m := f.connect(t, "mallory")

	f.send(m, model.ClientEvent{Type: model.EventJoinConversation, ConversationID: f.conv})
	var errEv model.ErrorEvent
	if err := json.Unmarshal(recvType(t, m, model.EventError), &errEv); err != nil {
		t.Fatal(err)
	}
	if errEv.Code != model.CodeNotAParticipant {
		t.Fatalf("got code %q", errEv.Code)
	}
	if f.registry.InRoom(m, f.conv) {
		t.Fatal("rejected join still entered the room")
	}
}

func TestEmptyContentRejected(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")
	join(t, f, a)

	f.send(a, model.ClientEvent{Type: model.EventSendMessage, ConversationID: f.conv, Content: "   "})
	var errEv model.ErrorEvent
	if err := json.Unmarshal(recvType(t, a, model.EventError), &errEv); err != nil {
		t.Fatal(err)
	}
	if errEv.Code != model.CodeEmptyContent {
		t.Fatalf("got code %q", errEv.Code)
	}
}

func TestJoinReplaysHistoryInOrder(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")
	join(t, f, a)

	contents := []string{"one", "two", "three"}
	for _, c := range contents {
		f.send(a, model.ClientEvent{Type: model.EventSendMessage, ConversationID: f.conv, Content: c})
		recvType(t, a, model.EventNewMessage)
		recvType(t, a, model.EventMessageDelivered)
	}

	b := f.connect(t, "bob")
	f.send(b, model.ClientEvent{Type: model.EventJoinConversation, ConversationID: f.conv})
	recvType(t, b, model.EventJoined)

	var hist model.MessageHistoryEvent
	if err := json.Unmarshal(recvType(t, b, model.EventMessageHistory), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Messages) != len(contents) {
		t.Fatalf("history has %d messages, want %d", len(hist.Messages), len(contents))
	}
	for i, m := range hist.Messages {
		if m.Content != contents[i] {
			t.Fatalf("history[%d] = %q, want %q", i, m.Content, contents[i])
		}
	}
}

func TestReconnectCatchesUpWithoutGapsOrDuplicates(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")
	b := f.connect(t, "bob")
	join(t, f, a)
	join(t, f, b)

	f.send(a, model.ClientEvent{Type: model.EventSendMessage, ConversationID: f.conv, Content: "before drop"})
	recvType(t, a, model.EventNewMessage)
	recvType(t, a, model.EventMessageDelivered)
	recvType(t, b, model.EventNewMessage)

	// Bob drops; alice keeps talking.
	f.router.Disconnected(b)
	recvType(t, a, model.EventUserOffline)
	f.send(a, model.ClientEvent{Type: model.EventSendMessage, ConversationID: f.conv, Content: "while away"})
	recvType(t, a, model.EventNewMessage)
	recvType(t, a, model.EventMessageDelivered)

	// Bob reconnects and rejoins.
	b2 := f.connect(t, "bob")
	recvType(t, a, model.EventUserOnline)
	f.send(b2, model.ClientEvent{Type: model.EventJoinConversation, ConversationID: f.conv})
	recvType(t, b2, model.EventJoined)

	var hist model.MessageHistoryEvent
	if err := json.Unmarshal(recvType(t, b2, model.EventMessageHistory), &hist); err != nil {
		t.Fatal(err)
	}
	want := []string{"before drop", "while away"}
	if len(hist.Messages) != len(want) {
		t.Fatalf("history has %d messages, want %d", len(hist.Messages), len(want))
	}
	for i, m := range hist.Messages {
		if m.Content != want[i] {
			t.Fatalf("history[%d] = %q, want %q", i, m.Content, want[i])
		}
	}
	for i := 1; i < len(hist.Messages); i++ {
		if hist.Messages[i].ID <= hist.Messages[i-1].ID {
			t.Fatal("history not strictly ordered")
		}
	}
}

func TestTypingIndicatorExcludesSender(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")
	b := f.connect(t, "bob")
	join(t, f, a)
	join(t, f, b)

	f.send(a, model.ClientEvent{Type: model.EventTypingStart, ConversationID: f.conv})

	var ev model.TypingIndicatorEvent
	if err := json.Unmarshal(recvType(t, b, model.EventTypingIndicator), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.UserID != "alice" || !ev.IsTyping {
		t.Fatalf("wrong indicator: %+v", ev)
	}
	assertQuiet(t, a)

	f.send(a, model.ClientEvent{Type: model.EventTypingStop, ConversationID: f.conv})
	if err := json.Unmarshal(recvType(t, b, model.EventTypingIndicator), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.IsTyping {
		t.Fatal("stop reported as typing")
	}
}

func TestTypingRequiresRoom(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")

	f.send(a, model.ClientEvent{Type: model.EventTypingStart, ConversationID: f.conv})
	recvType(t, a, model.EventError)
}

func TestMarkReadBroadcastsReceipt(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")
	b := f.connect(t, "bob")
	join(t, f, a)
	join(t, f, b)

	f.send(b, model.ClientEvent{Type: model.EventMarkRead, ConversationID: f.conv})

	var ev model.ReadReceiptEvent
	if err := json.Unmarshal(recvType(t, a, model.EventReadReceipt), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.UserID != "bob" || ev.ConversationID != f.conv {
		t.Fatalf("wrong receipt: %+v", ev)
	}
	assertQuiet(t, b)
}

func TestUnknownEventRejected(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")

	f.send(a, model.ClientEvent{Type: "warp_drive", ConversationID: f.conv})
	var errEv model.ErrorEvent
	if err := json.Unmarshal(recvType(t, a, model.EventError), &errEv); err != nil {
		t.Fatal(err)
	}
	if errEv.Code != model.CodeUnknownEvent {
		t.Fatalf("got code %q", errEv.Code)
	}
}

func TestMalformedFrameRejected(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")

	f.router.HandleEvent(a, []byte("{not json"))
	recvType(t, a, model.EventError)
}

func TestLeaveConversation(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")
	b := f.connect(t, "bob")
	join(t, f, a)
	join(t, f, b)

	f.send(b, model.ClientEvent{Type: model.EventLeaveConversation, ConversationID: f.conv})
	recvType(t, b, model.EventLeft)

	f.send(a, model.ClientEvent{Type: model.EventSendMessage, ConversationID: f.conv, Content: "anyone?"})
	recvType(t, a, model.EventNewMessage)
	recvType(t, a, model.EventMessageDelivered)
	assertQuiet(t, b)

	// Leaving a room twice is an error frame, nothing else.
	f.send(b, model.ClientEvent{Type: model.EventLeaveConversation, ConversationID: f.conv})
	recvType(t, b, model.EventError)
}

func TestVisibilityPolicyBlocksPrivateSender(t *testing.T) {
	f := newFixture(t, true)
	shy := f.connect(t, "shy")
	join(t, f, shy)

	f.send(shy, model.ClientEvent{Type: model.EventSendMessage, ConversationID: f.conv, Content: "hello"})
	var errEv model.ErrorEvent
	if err := json.Unmarshal(recvType(t, shy, model.EventError), &errEv); err != nil {
		t.Fatal(err)
	}
	if errEv.Code != model.CodeForbidden {
		t.Fatalf("got code %q", errEv.Code)
	}
}

func TestPresenceOnDisconnect(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect(t, "alice")
	b := f.connect(t, "bob")
	join(t, f, a)
	join(t, f, b)

	f.router.Disconnected(b)
	var ev model.PresenceEvent
	if err := json.Unmarshal(recvType(t, a, model.EventUserOffline), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.UserID != "bob" {
		t.Fatalf("offline for %q", ev.UserID)
	}
	if f.registry.IsUserOnline("bob") {
		t.Fatal("bob still online after disconnect")
	}
}
