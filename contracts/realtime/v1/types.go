package v1

import (
	"encoding/json"
	"time"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ---- Payloads ----

// NotificationPayload is pushed for comment replies, likes and system notices.
type NotificationPayload struct {
	NotificationID string    `json:"notification_id"`
	Kind           string    `json:"kind"`
	Title          string    `json:"title"`
	Content        string    `json:"content,omitempty"`
	ArticleID      int64     `json:"article_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatSendPayload requests sending a message into a conversation.
type ChatSendPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Text           string `json:"text"`
}

// ChatAckPayload acknowledges a send request and returns the canonical server ids.
type ChatAckPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	ServerMsgID    string `json:"server_msg_id"`
	Seq            int64  `json:"seq"`
}

// ChatMessagePayload is broadcast when a new chat message is accepted.
type ChatMessagePayload struct {
	ConversationID string    `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	ServerMsgID    string    `json:"server_msg_id"`
	Seq            int64     `json:"seq"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Text           string    `json:"text"`
	ServerTS       time.Time `json:"server_ts"`
}

// ReadReceiptPayload marks a conversation (or all notifications when empty) as read.
type ReadReceiptPayload struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UpToSeq        int64  `json:"up_to_seq,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
