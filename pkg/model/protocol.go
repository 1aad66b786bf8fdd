package model

import "time"

// Wire protocol for the websocket transport. Every frame is a JSON object
// with a "type" discriminator; unknown types are rejected, not ignored.

type EventType string

// Client -> server.
const (
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"
	EventTypingStart       EventType = "typing_start"
	EventTypingStop        EventType = "typing_stop"
	EventMarkRead          EventType = "mark_read"
)

// Server -> client.
const (
	EventJoined           EventType = "joined"
	EventLeft             EventType = "left"
	EventMessageHistory   EventType = "message_history"
	EventNewMessage       EventType = "new_message"
	EventMessageDelivered EventType = "message_delivered"
	EventTypingIndicator  EventType = "typing_indicator"
	EventReadReceipt      EventType = "read_receipt"
	EventUserOnline       EventType = "user_online"
	EventUserOffline      EventType = "user_offline"
	EventError            EventType = "error"
)

// ClientEvent is the inbound envelope. Content is only set for send_message.
type ClientEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content,omitempty"`
}

// Stable machine-readable codes carried on error frames.
type ErrorCode string

const (
	CodeUnauthenticated ErrorCode = "unauthenticated"
	CodeNotAParticipant ErrorCode = "not_a_participant"
	CodeEmptyContent    ErrorCode = "empty_content"
	CodeNotFound        ErrorCode = "not_found"
	CodeForbidden       ErrorCode = "forbidden"
	CodeTimeout         ErrorCode = "timeout"
	CodeUnknownEvent    ErrorCode = "unknown_event"
	CodeInternal        ErrorCode = "internal"
)

type JoinedEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
}

type MessageHistoryEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

type NewMessageEvent struct {
	Type    EventType `json:"type"`
	Message Message   `json:"message"`
}

type MessageDeliveredEvent struct {
	Type      EventType `json:"type"`
	MessageID int64     `json:"message_id"`
}

type TypingIndicatorEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
}

type ReadReceiptEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type PresenceEvent struct {
	Type   EventType `json:"type"`
	UserID string    `json:"user_id"`
}

type ErrorEvent struct {
	Type    EventType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func NewJoined(conversationID string) JoinedEvent {
	return JoinedEvent{Type: EventJoined, ConversationID: conversationID}
}

func NewLeft(conversationID string) JoinedEvent {
	return JoinedEvent{Type: EventLeft, ConversationID: conversationID}
}

func NewHistory(conversationID string, msgs []Message) MessageHistoryEvent {
	return MessageHistoryEvent{Type: EventMessageHistory, ConversationID: conversationID, Messages: msgs}
}

func NewError(code ErrorCode, msg string) ErrorEvent {
	return ErrorEvent{Type: EventError, Code: code, Message: msg}
}
