package realtime

import "time"

// Transport and payload limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max chat message text length (runes).
	maxMessageChars = 4000

	// Consecutive ping failures treated as a broken connection.
	maxPingFailures = 3

	closeGrace = 1 * time.Second
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectInterval    = 3 * time.Second

	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second

	defaultSendQueueSize = 64
	minSendQueueSize     = 8

	// Outbound rate limit (events per window), kept below the server's own limit.
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)

const (
	inboxMaxNotifications   = 500
	inboxMaxMessagesPerConv = 10_000
	inboxDefaultHistory     = 50
	inboxMaxHistory         = 200
)
