package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	v1 "blogdesk/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// errBadFrame marks a frame that could not be decoded; the read loop skips it.
var errBadFrame = errors.New("bad frame")

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// Conn is one open transport connection carrying v1 envelopes.
type Conn interface {
	Read(ctx context.Context) (v1.Envelope, error)
	Write(ctx context.Context, env v1.Envelope) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// WSDialer dials with github.com/coder/websocket.
type WSDialer struct {
	Subprotocol string
	UserAgent   string
	HTTPClient  *http.Client
}

// Dial performs the WebSocket handshake.
func (d WSDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	h := http.Header{}
	if ua := strings.TrimSpace(d.UserAgent); ua != "" {
		h.Set("User-Agent", ua)
	}
	opts := &websocket.DialOptions{HTTPHeader: h, HTTPClient: d.HTTPClient}
	if sp := strings.TrimSpace(d.Subprotocol); sp != "" {
		opts.Subprotocols = []string{sp}
	}

	conn, resp, err := websocket.Dial(ctx, rawURL, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: http %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)
	return &wsConn{c: conn}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (v1.Envelope, error) {
	mt, data, err := w.c.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("%w: unsupported message type: %v", errBadFrame, mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return env, nil
}

func (w *wsConn) Write(ctx context.Context, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return w.c.Write(ctx, websocket.MessageText, b)
}

func (w *wsConn) Ping(ctx context.Context) error { return w.c.Ping(ctx) }

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadFrame
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errBadFrame) {
		return readErrBadFrame
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
