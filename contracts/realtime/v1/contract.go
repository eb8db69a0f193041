// Package v1 defines the blogdesk realtime channel contract (notifications + chat).
//
// The server speaks this contract on /api/ws/connect; the client validates
// every inbound envelope against it before dispatch.
package v1

import (
	"errors"
	"fmt"
	"strings"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeNotification delivers a notification (comment reply, like, system notice).
	TypeNotification = "notification"

	// TypeChatSend requests sending a chat message (client -> server).
	TypeChatSend = "chat_send"
	// TypeChatAck acknowledges a send request (server -> client).
	TypeChatAck = "chat_ack"
	// TypeChatMessage broadcasts an accepted chat message (server -> conversation members).
	TypeChatMessage = "chat_message"

	// TypeReadReceipt marks notifications or a conversation as read (client -> server).
	TypeReadReceipt = "read_receipt"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

var allowedTypes = map[string]struct{}{
	TypeNotification: {},
	TypeChatSend:     {},
	TypeChatAck:      {},
	TypeChatMessage:  {},
	TypeReadReceipt:  {},
	TypeError:        {},
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}
