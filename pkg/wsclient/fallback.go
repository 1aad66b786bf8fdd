package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/eventpulse/chat-service/pkg/model"
)

// Fallback is the request/response path used while the websocket is down.
// Every call is bounded by the HTTP client timeout so a hung store never
// leaves the UI waiting.
type Fallback struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewFallback(baseURL, token string) *Fallback {
	return &Fallback{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// History fetches recent messages via REST, ascending chronological.
func (f *Fallback) History(ctx context.Context, conversationID, userID string, limit int) ([]model.Message, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/conversation/%s/messages?%s", f.baseURL, conversationID, q.Encode())

	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	if err := f.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send posts a message via REST.
func (f *Fallback) Send(ctx context.Context, conversationID, senderID, content string) (*model.Message, error) {
	body := map[string]string{
		"conversation_id": conversationID,
		"sender_id":       senderID,
		"content":         content,
	}
	var msg model.Message
	if err := f.do(ctx, http.MethodPost, f.baseURL+"/conversation/message/send", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead updates the read cursor via REST.
func (f *Fallback) MarkRead(ctx context.Context, conversationID, userID string) error {
	body := map[string]string{"user_id": userID}
	endpoint := fmt.Sprintf("%s/conversation/%s/mark-read", f.baseURL, conversationID)
	return f.do(ctx, http.MethodPost, endpoint, body, nil)
}

func (f *Fallback) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr model.ErrorEvent
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %d %s (%s)", method, endpoint, resp.StatusCode, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, endpoint, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
