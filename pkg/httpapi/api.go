// Package httpapi is the request/response surface: initial page loads and
// the degraded mode clients fall back to when the websocket is down.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/eventpulse/chat-service/pkg/auth"
	"github.com/eventpulse/chat-service/pkg/logging"
	"github.com/eventpulse/chat-service/pkg/model"
	"github.com/eventpulse/chat-service/pkg/presence"
	"github.com/eventpulse/chat-service/pkg/store"
)

type API struct {
	store    store.Store
	authn    *auth.Authenticator
	gate     *auth.Gate
	presence *presence.Tracker
	timeout  time.Duration
	validate *validator.Validate
	log      zerolog.Logger
}

func New(st store.Store, authn *auth.Authenticator, gate *auth.Gate, pres *presence.Tracker, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &API{
		store:    st,
		authn:    authn,
		gate:     gate,
		presence: pres,
		timeout:  timeout,
		validate: validator.New(),
		log:      logging.With("httpapi"),
	}
}

// Routes wires the REST surface onto a chi router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Post("/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/conversation/{id}/messages", a.handleMessages)
		r.Post("/conversation/message/send", a.handleSend)
		r.Delete("/message/{id}", a.handleDelete)
		r.Post("/conversation/{id}/mark-read", a.handleMarkRead)
		r.Get("/conversation/{id}/unread/{user_id}", a.handleUnread)
		r.Get("/conversation/{id}/online", a.handleOnline)
		r.Get("/conversations", a.handleConversations)
		r.Post("/conversation/create", a.handleCreate)
	})
	return r
}

type loginRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// handleLogin issues a development token. Production deployments put the
// identity service in front and never expose this.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	token, err := a.authn.GenerateToken(req.UserID)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, model.CodeInternal, "token generation failed")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type messagesResponse struct {
	Messages   []model.Message `json:"messages"`
	Pagination pagination      `json:"pagination"`
}

type pagination struct {
	Limit      int    `json:"limit"`
	NextBefore string `json:"next_before,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("user_id")
	if !a.actorMatches(w, r, userID) {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			a.writeError(w, http.StatusBadRequest, model.CodeUnknownEvent, "limit must be 1..500")
			return
		}
		limit = n
	}
	before, err := store.ParseCursor(r.URL.Query().Get("before"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, model.CodeUnknownEvent, "malformed before cursor")
		return
	}

	ctx, cancel := a.opCtx(r)
	defer cancel()

	ok, err := a.gate.AuthorizeParticipant(ctx, userID, conversationID)
	if err != nil {
		a.storeError(w, err)
		return
	}
	if !ok {
		a.writeError(w, http.StatusForbidden, model.CodeNotAParticipant, "not a participant of this conversation")
		return
	}

	msgs, err := a.store.Recent(ctx, conversationID, store.RecentOptions{Limit: limit, Before: before})
	if err != nil {
		a.storeError(w, err)
		return
	}

	resp := messagesResponse{Messages: msgs, Pagination: pagination{Limit: limit, HasMore: len(msgs) == limit}}
	if len(msgs) > 0 {
		oldest := msgs[0]
		resp.Pagination.NextBefore = store.Cursor{CreatedAtMillis: oldest.CreatedAt.UnixMilli(), ID: oldest.ID}.String()
	}
	a.writeJSON(w, http.StatusOK, resp)
}

type sendRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	SenderID       string `json:"sender_id" validate:"required"`
	Content        string `json:"content" validate:"required"`
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.actorMatches(w, r, req.SenderID) {
		return
	}

	ctx, cancel := a.opCtx(r)
	defer cancel()

	if ok, err := a.gate.AuthorizeVisibility(ctx, req.SenderID); err != nil {
		a.storeError(w, err)
		return
	} else if !ok {
		a.writeError(w, http.StatusForbidden, model.CodeForbidden, "messaging requires a public profile")
		return
	}

	msg, err := a.store.Append(ctx, req.ConversationID, req.SenderID, req.Content)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, msg)
}

type deleteRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, model.CodeUnknownEvent, "message id must be numeric")
		return
	}
	var req deleteRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.actorMatches(w, r, req.UserID) {
		return
	}

	ctx, cancel := a.opCtx(r)
	defer cancel()

	if err := a.store.SoftDelete(ctx, messageID, req.UserID); err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type markReadRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	var req markReadRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.actorMatches(w, r, req.UserID) {
		return
	}

	ctx, cancel := a.opCtx(r)
	defer cancel()

	if err := a.store.MarkRead(ctx, conversationID, req.UserID); err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleUnread(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "user_id")
	if !a.actorMatches(w, r, userID) {
		return
	}

	ctx, cancel := a.opCtx(r)
	defer cancel()

	count, err := a.store.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

func (a *API) handleOnline(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	ctx, cancel := a.opCtx(r)
	defer cancel()

	users, err := a.presence.Online(ctx, conversationID)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, model.CodeInternal, "presence lookup failed")
		return
	}
	if users == nil {
		users = []string{}
	}
	a.writeJSON(w, http.StatusOK, map[string][]string{"online": users})
}

func (a *API) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !a.actorMatches(w, r, userID) {
		return
	}

	ctx, cancel := a.opCtx(r)
	defer cancel()

	summaries, err := a.store.Conversations(ctx, userID)
	if err != nil {
		a.storeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []model.ConversationSummary{}
	}
	a.writeJSON(w, http.StatusOK, summaries)
}

type createRequest struct {
	EventRef       string   `json:"event_ref"`
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=2,dive,required"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !a.decode(w, r, &req) {
		return
	}

	ctx, cancel := a.opCtx(r)
	defer cancel()

	conv, err := a.store.CreateConversation(ctx, req.EventRef, req.ParticipantIDs)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, conv)
}

func (a *API) opCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.timeout)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, model.CodeUnknownEvent, "invalid request body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, model.CodeUnknownEvent, err.Error())
		return false
	}
	return true
}

func (a *API) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotAParticipant):
		a.writeError(w, http.StatusForbidden, model.CodeNotAParticipant, "not a participant of this conversation")
	case errors.Is(err, store.ErrForbidden):
		a.writeError(w, http.StatusForbidden, model.CodeForbidden, "not allowed")
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, model.CodeNotFound, "not found")
	case errors.Is(err, store.ErrEmptyContent):
		a.writeError(w, http.StatusBadRequest, model.CodeEmptyContent, "content must not be empty")
	case errors.Is(err, context.DeadlineExceeded):
		a.writeError(w, http.StatusGatewayTimeout, model.CodeTimeout, "store timed out")
	default:
		a.log.Error().Err(err).Msg("request failed")
		a.writeError(w, http.StatusInternalServerError, model.CodeInternal, "internal error")
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("encode response")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, code model.ErrorCode, msg string) {
	a.writeJSON(w, status, model.NewError(code, msg))
}
