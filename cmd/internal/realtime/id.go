package realtime

import (
	"time"

	"blogdesk/cmd/identity/ids"
)

// NewEnvelopeID returns a ULID used as outbound envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewClientMsgID returns a ULID used as chat client_msg_id (server dedupe key).
func NewClientMsgID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
