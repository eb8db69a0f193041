package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "blogdesk/contracts/realtime/v1"
)

// StoredMessage is a chat message as kept by the Inbox.
type StoredMessage struct {
	ConversationID string    `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	ServerMsgID    string    `json:"server_msg_id"`
	Seq            int64     `json:"seq"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Text           string    `json:"text"`
	ServerTS       time.Time `json:"server_ts"`
}

// Notification is a received notification plus its local read flag.
type Notification struct {
	v1.NotificationPayload
	Read       bool      `json:"read"`
	ReceivedAt time.Time `json:"received_at"`
}

// HistoryQuery selects a window of one conversation.
type HistoryQuery struct {
	ConversationID string
	AfterSeq       *int64
	Limit          int
}

// HistoryPage is a window of messages ordered by seq ASC.
type HistoryPage struct {
	Messages []StoredMessage `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// ConversationSummary is the per-conversation counter view.
type ConversationSummary struct {
	ConversationID string `json:"conversation_id"`
	LastSeq        int64  `json:"last_seq"`
	ReadSeq        int64  `json:"read_seq"`
	Unread         int    `json:"unread"`
	Pending        int    `json:"pending"`
}

// InboxSummary is the aggregate shown by status surfaces.
type InboxSummary struct {
	UnreadNotifications int                   `json:"unread_notifications"`
	Notifications       int                   `json:"notifications"`
	Conversations       []ConversationSummary `json:"conversations"`
	LastError           *v1.ErrorPayload      `json:"last_error,omitempty"`
}

// Inbox records inbound notifications and chat messages.
//
// Chat messages are deduplicated by server_msg_id and kept ordered by seq.
// Outgoing sends stay pending until the server acks their client_msg_id.
type Inbox struct {
	log *slog.Logger

	mu            sync.Mutex
	notifications []Notification
	notifSeen     map[string]struct{}
	convs         map[string]*inboxConv
	lastError     *v1.ErrorPayload
}

type inboxConv struct {
	readSeq int64
	dedupe  map[string]struct{}          // server_msg_id
	pending map[string]v1.ChatSendPayload // client_msg_id -> outgoing
	msgs    []StoredMessage               // ordered by seq
}

// NewInbox constructs an empty Inbox.
func NewInbox(log *slog.Logger) *Inbox {
	if log == nil {
		log = slog.Default()
	}
	return &Inbox{
		log:       log,
		notifSeen: make(map[string]struct{}),
		convs:     make(map[string]*inboxConv),
	}
}

// HandleEnvelope implements Handler.
func (in *Inbox) HandleEnvelope(_ context.Context, env v1.Envelope) {
	var err error
	switch env.Type {
	case v1.TypeNotification:
		var p v1.NotificationPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = in.AddNotification(p, env.TS)
		}
	case v1.TypeChatMessage:
		var p v1.ChatMessagePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			_, err = in.AddMessage(p)
		}
	case v1.TypeChatAck:
		var p v1.ChatAckPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			in.Ack(p)
		}
	case v1.TypeError:
		var p v1.ErrorPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			in.mu.Lock()
			in.lastError = &p
			in.mu.Unlock()
			in.log.Warn("realtime.server.error", "code", p.Code, "message", p.Message)
		}
	default:
		return
	}
	if err != nil {
		in.log.Info("realtime.inbox.reject", "type", env.Type, "id", env.ID, "err", err)
	}
}

// AddNotification records p; duplicates by notification id are ignored.
func (in *Inbox) AddNotification(p v1.NotificationPayload, receivedAt time.Time) error {
	if strings.TrimSpace(p.NotificationID) == "" {
		return errors.New("missing notification_id")
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.notifSeen[p.NotificationID]; ok {
		return nil
	}
	in.notifSeen[p.NotificationID] = struct{}{}
	in.notifications = append(in.notifications, Notification{NotificationPayload: p, ReceivedAt: receivedAt})

	if len(in.notifications) > inboxMaxNotifications {
		drop := in.notifications[:len(in.notifications)-inboxMaxNotifications]
		for _, n := range drop {
			delete(in.notifSeen, n.NotificationID)
		}
		in.notifications = append([]Notification(nil), in.notifications[len(drop):]...)
	}
	return nil
}

// Notifications returns up to limit notifications, newest first.
func (in *Inbox) Notifications(limit int) []Notification {
	in.mu.Lock()
	defer in.mu.Unlock()

	n := len(in.notifications)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Notification, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, in.notifications[i])
	}
	return out
}

// MarkNotificationsRead marks every notification read and returns how many changed.
func (in *Inbox) MarkNotificationsRead() int {
	in.mu.Lock()
	defer in.mu.Unlock()

	changed := 0
	for i := range in.notifications {
		if !in.notifications[i].Read {
			in.notifications[i].Read = true
			changed++
		}
	}
	return changed
}

// AddMessage records a chat message. It reports false for duplicates.
func (in *Inbox) AddMessage(p v1.ChatMessagePayload) (bool, error) {
	if strings.TrimSpace(p.ConversationID) == "" || strings.TrimSpace(p.ServerMsgID) == "" {
		return false, errors.New("missing conversation_id or server_msg_id")
	}
	if p.Seq <= 0 {
		return false, errors.New("invalid seq")
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	c := in.convLocked(p.ConversationID)
	if _, ok := c.dedupe[p.ServerMsgID]; ok {
		return false, nil
	}
	c.dedupe[p.ServerMsgID] = struct{}{}
	if p.ClientMsgID != "" {
		delete(c.pending, p.ClientMsgID)
	}

	msg := StoredMessage{
		ConversationID: p.ConversationID,
		ClientMsgID:    p.ClientMsgID,
		ServerMsgID:    p.ServerMsgID,
		Seq:            p.Seq,
		SenderID:       p.SenderID,
		SenderName:     p.SenderName,
		Text:           p.Text,
		ServerTS:       p.ServerTS,
	}

	// Messages usually arrive in order; insert by seq otherwise.
	i := sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].Seq > msg.Seq })
	c.msgs = append(c.msgs, StoredMessage{})
	copy(c.msgs[i+1:], c.msgs[i:])
	c.msgs[i] = msg

	if len(c.msgs) > inboxMaxMessagesPerConv {
		drop := c.msgs[:len(c.msgs)-inboxMaxMessagesPerConv]
		for _, m := range drop {
			delete(c.dedupe, m.ServerMsgID)
		}
		c.msgs = append([]StoredMessage(nil), c.msgs[len(drop):]...)
	}
	return true, nil
}

// RecordOutgoing tracks a send until its ack arrives.
func (in *Inbox) RecordOutgoing(p v1.ChatSendPayload) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.convLocked(p.ConversationID).pending[p.ClientMsgID] = p
}

// Ack resolves a pending send.
func (in *Inbox) Ack(p v1.ChatAckPayload) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if c := in.convs[p.ConversationID]; c != nil {
		delete(c.pending, p.ClientMsgID)
	}
}

// MarkConversationRead advances the read marker; upToSeq <= 0 means everything.
func (in *Inbox) MarkConversationRead(conversationID string, upToSeq int64) {
	in.mu.Lock()
	defer in.mu.Unlock()

	c := in.convs[conversationID]
	if c == nil {
		return
	}
	if upToSeq <= 0 && len(c.msgs) > 0 {
		upToSeq = c.msgs[len(c.msgs)-1].Seq
	}
	if upToSeq > c.readSeq {
		c.readSeq = upToSeq
	}
}

// History returns messages ordered by seq ASC with paging via AfterSeq.
func (in *Inbox) History(q HistoryQuery) (HistoryPage, error) {
	if strings.TrimSpace(q.ConversationID) == "" {
		return HistoryPage{}, errors.New("missing conversation_id")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = inboxDefaultHistory
	}
	if limit > inboxMaxHistory {
		limit = inboxMaxHistory
	}

	in.mu.Lock()
	c := in.convs[q.ConversationID]
	var snap []StoredMessage
	if c != nil {
		snap = append([]StoredMessage(nil), c.msgs...)
	}
	in.mu.Unlock()

	if len(snap) == 0 {
		return HistoryPage{}, nil
	}

	start := 0
	if q.AfterSeq != nil {
		after := *q.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
		if start >= len(snap) {
			return HistoryPage{}, nil
		}
	}

	end := start + limit + 1
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return HistoryPage{Messages: out, HasMore: hasMore}, nil
}

// Summary returns counters for every conversation, ordered by id.
func (in *Inbox) Summary() InboxSummary {
	in.mu.Lock()
	defer in.mu.Unlock()

	s := InboxSummary{Notifications: len(in.notifications), LastError: in.lastError}
	for _, n := range in.notifications {
		if !n.Read {
			s.UnreadNotifications++
		}
	}
	for id, c := range in.convs {
		cs := ConversationSummary{ConversationID: id, ReadSeq: c.readSeq, Pending: len(c.pending)}
		if len(c.msgs) > 0 {
			cs.LastSeq = c.msgs[len(c.msgs)-1].Seq
		}
		for _, m := range c.msgs {
			if m.Seq > c.readSeq {
				cs.Unread++
			}
		}
		s.Conversations = append(s.Conversations, cs)
	}
	sort.Slice(s.Conversations, func(i, j int) bool {
		return s.Conversations[i].ConversationID < s.Conversations[j].ConversationID
	})
	return s
}

func (in *Inbox) convLocked(id string) *inboxConv {
	c := in.convs[id]
	if c == nil {
		c = &inboxConv{
			dedupe:  make(map[string]struct{}),
			pending: make(map[string]v1.ChatSendPayload),
			msgs:    make([]StoredMessage, 0, 64),
		}
		in.convs[id] = c
	}
	return c
}
