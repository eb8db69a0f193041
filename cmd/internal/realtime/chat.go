package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	v1 "blogdesk/contracts/realtime/v1"
)

// SendChat validates and queues a chat message. It returns the client_msg_id
// the server will echo in its ack. When inbox is non-nil the send is tracked
// as pending there.
func (m *Manager) SendChat(ctx context.Context, inbox *Inbox, conversationID, text string) (string, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", errors.New("missing conversation_id")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty text")
	}
	if len([]rune(text)) > maxMessageChars {
		return "", fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	now := time.Now().UTC()
	clientMsgID, err := NewClientMsgID(now)
	if err != nil {
		return "", err
	}
	p := v1.ChatSendPayload{ConversationID: conversationID, ClientMsgID: clientMsgID, Text: text}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	// Track before sending: the ack may be handled before Send returns.
	if inbox != nil {
		inbox.RecordOutgoing(p)
	}
	if err := m.Send(ctx, v1.Envelope{Type: v1.TypeChatSend, TS: now, Payload: raw}); err != nil {
		if inbox != nil {
			inbox.Ack(v1.ChatAckPayload{ConversationID: conversationID, ClientMsgID: clientMsgID})
		}
		return "", err
	}
	return clientMsgID, nil
}

// MarkRead sends a read receipt and advances the local marker. An empty
// conversationID marks notifications read.
func (m *Manager) MarkRead(ctx context.Context, inbox *Inbox, conversationID string, upToSeq int64) error {
	raw, err := json.Marshal(v1.ReadReceiptPayload{ConversationID: conversationID, UpToSeq: upToSeq})
	if err != nil {
		return err
	}
	if err := m.Send(ctx, v1.Envelope{Type: v1.TypeReadReceipt, Payload: raw}); err != nil {
		return err
	}
	if inbox == nil {
		return nil
	}
	if conversationID == "" {
		inbox.MarkNotificationsRead()
		return nil
	}
	inbox.MarkConversationRead(conversationID, upToSeq)
	return nil
}
