package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/eventpulse/chat-service/pkg/auth"
	"github.com/eventpulse/chat-service/pkg/hub"
	"github.com/eventpulse/chat-service/pkg/model"
	"github.com/eventpulse/chat-service/pkg/presence"
	"github.com/eventpulse/chat-service/pkg/store"
)

type apiFixture struct {
	store  *store.MemoryStore
	authn  *auth.Authenticator
	server *httptest.Server
	conv   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	st := store.NewMemoryStore()
	for _, uid := range []string{"alice", "bob"} {
		st.PutUser(model.User{ID: uid, DisplayName: uid, ProfilePublic: true})
	}
	conv, err := st.CreateConversation(context.Background(), "", []string{"alice", "bob"})
	if err != nil {
		t.Fatal(err)
	}

	authn := auth.NewAuthenticator("test-secret-0123456789", time.Hour)
	gate := auth.NewGate(st, st, false)
	pres := presence.NewTracker(hub.NewRegistry(), st, nil)
	api := New(st, authn, gate, pres, 5*time.Second)

	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return &apiFixture{store: st, authn: authn, server: srv, conv: conv.ID}
}

func (f *apiFixture) request(t *testing.T, method, path, asUser string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if asUser != "" {
		token, err := f.authn.GenerateToken(asUser)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestLoginIssuesUsableToken(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/login", "", map[string]string{"user_id": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	claims, err := f.authn.ValidateToken(body["token"])
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "alice" {
		t.Fatalf("token for %q", claims.UserID)
	}
}

func TestAuthenticatedRoutesRejectMissingToken(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/conversations?user_id=alice", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
	body := decodeBody[model.ErrorEvent](t, resp)
	if body.Code != model.CodeUnauthenticated {
		t.Fatalf("code %q", body.Code)
	}
}

func TestActorMismatchForbidden(t *testing.T) {
	f := newAPIFixture(t)

	// Bob's token cannot read alice's conversation list.
	resp := f.request(t, http.MethodGet, "/conversations?user_id=alice", "bob", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
}

func TestSendAndFetchMessages(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/conversation/message/send", "alice", map[string]string{
		"conversation_id": f.conv,
		"sender_id":       "alice",
		"content":         "hello over rest",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status %d, want 201", resp.StatusCode)
	}
	sent := decodeBody[model.Message](t, resp)
	if sent.ID == 0 || sent.Content != "hello over rest" {
		t.Fatalf("bad message: %+v", sent)
	}

	resp = f.request(t, http.MethodGet, "/conversation/"+f.conv+"/messages?user_id=bob", "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch status %d", resp.StatusCode)
	}
	page := decodeBody[struct {
		Messages   []model.Message `json:"messages"`
		Pagination struct {
			Limit      int    `json:"limit"`
			NextBefore string `json:"next_before"`
			HasMore    bool   `json:"has_more"`
		} `json:"pagination"`
	}](t, resp)
	if len(page.Messages) != 1 || page.Messages[0].ID != sent.ID {
		t.Fatalf("fetched %+v", page.Messages)
	}
	if page.Pagination.HasMore {
		t.Fatal("has_more set on a complete page")
	}
}

func TestMessagesCursorPagination(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := f.store.Append(ctx, f.conv, "alice", "m"); err != nil {
			t.Fatal(err)
		}
	}

	type page struct {
		Messages   []model.Message `json:"messages"`
		Pagination struct {
			NextBefore string `json:"next_before"`
			HasMore    bool   `json:"has_more"`
		} `json:"pagination"`
	}

	resp := f.request(t, http.MethodGet, "/conversation/"+f.conv+"/messages?user_id=alice&limit=2", "alice", nil)
	first := decodeBody[page](t, resp)
	if len(first.Messages) != 2 || !first.Pagination.HasMore {
		t.Fatalf("first page: %+v", first)
	}

	resp = f.request(t, http.MethodGet, "/conversation/"+f.conv+"/messages?user_id=alice&limit=2&before="+first.Pagination.NextBefore, "alice", nil)
	second := decodeBody[page](t, resp)
	if len(second.Messages) != 2 {
		t.Fatalf("second page: %+v", second)
	}
	if second.Messages[len(second.Messages)-1].ID >= first.Messages[0].ID {
		t.Fatal("pages overlap")
	}
}

func TestMessagesRejectNonParticipant(t *testing.T) {
	f := newAPIFixture(t)
	f.store.PutUser(model.User{ID: "mallory", ProfilePublic: true})

	resp := f.request(t, http.MethodGet, "/conversation/"+f.conv+"/messages?user_id=mallory", "mallory", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
	body := decodeBody[model.ErrorEvent](t, resp)
	if body.Code != model.CodeNotAParticipant {
		t.Fatalf("code %q", body.Code)
	}
}

func TestMessagesLimitValidation(t *testing.T) {
	f := newAPIFixture(t)

	for _, limit := range []string{"0", "-1", "501", "abc"} {
		resp := f.request(t, http.MethodGet, "/conversation/"+f.conv+"/messages?user_id=alice&limit="+limit, "alice", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("limit %q: status %d, want 400", limit, resp.StatusCode)
		}
	}
}

func TestDeleteMessage(t *testing.T) {
	f := newAPIFixture(t)
	msg, err := f.store.Append(context.Background(), f.conv, "alice", "oops")
	if err != nil {
		t.Fatal(err)
	}
	id := "/message/" + strconv.FormatInt(msg.ID, 10)

	// Only the sender may delete.
	resp := f.request(t, http.MethodDelete, id, "bob", map[string]string{"user_id": "bob"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}

	resp = f.request(t, http.MethodDelete, id, "alice", map[string]string{"user_id": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}

	// Gone from the default view.
	msgs, _ := f.store.Recent(context.Background(), f.conv, store.RecentOptions{Limit: 10})
	if len(msgs) != 0 {
		t.Fatal("deleted message still listed")
	}

	resp = f.request(t, http.MethodDelete, "/message/999999", "alice", map[string]string{"user_id": "alice"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}

func TestMarkReadAndUnread(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.store.Append(ctx, f.conv, "alice", "msg"); err != nil {
			t.Fatal(err)
		}
	}

	resp := f.request(t, http.MethodGet, "/conversation/"+f.conv+"/unread/bob", "bob", nil)
	if n := decodeBody[map[string]int](t, resp)["unread_count"]; n != 3 {
		t.Fatalf("unread = %d, want 3", n)
	}

	resp = f.request(t, http.MethodPost, "/conversation/"+f.conv+"/mark-read", "bob", map[string]string{"user_id": "bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark-read status %d", resp.StatusCode)
	}

	resp = f.request(t, http.MethodGet, "/conversation/"+f.conv+"/unread/bob", "bob", nil)
	if n := decodeBody[map[string]int](t, resp)["unread_count"]; n != 0 {
		t.Fatalf("unread after mark-read = %d", n)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/conversation/create", "alice", map[string]any{
		"participant_ids": []string{"alice"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}

	resp = f.request(t, http.MethodPost, "/conversation/create", "alice", map[string]any{
		"event_ref":       "event-42",
		"participant_ids": []string{"alice", "bob"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d, want 201", resp.StatusCode)
	}
	conv := decodeBody[model.Conversation](t, resp)
	if conv.ID == "" || conv.EventRef != "event-42" {
		t.Fatalf("bad conversation: %+v", conv)
	}
}

func TestConversationList(t *testing.T) {
	f := newAPIFixture(t)
	if _, err := f.store.Append(context.Background(), f.conv, "alice", "ping"); err != nil {
		t.Fatal(err)
	}

	resp := f.request(t, http.MethodGet, "/conversations?user_id=bob", "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	sums := decodeBody[[]model.ConversationSummary](t, resp)
	if len(sums) != 1 || sums[0].ID != f.conv || sums[0].UnreadCount != 1 {
		t.Fatalf("summaries: %+v", sums)
	}
}

func TestOnlineWithoutMirrorIsEmpty(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/conversation/"+f.conv+"/online", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody[map[string][]string](t, resp)
	if len(body["online"]) != 0 {
		t.Fatalf("online: %v", body["online"])
	}
}
