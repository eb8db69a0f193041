package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"blogdesk/cmd/internal/auth/session"
	"blogdesk/cmd/internal/realtime"
)

// connControl is the slice of realtime.Manager the status surface drives.
type connControl interface {
	State() realtime.State
	Connect() error
	Disconnect() error
	MarkRead(ctx context.Context, inbox *realtime.Inbox, conversationID string, upToSeq int64) error
}

type statusDeps struct {
	log Logger

	requireDB bool
	dbEnabled bool
	pingDB    func(ctx context.Context) error

	state   *session.State
	conn    connControl
	inbox   *realtime.Inbox
	metrics http.Handler

	isResolved func() bool
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func registerHTTP(mux *http.ServeMux, d statusDeps) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.isResolved != nil && !d.isResolved() {
			http.Error(w, "session not resolved", http.StatusServiceUnavailable)
			return
		}
		if d.requireDB && !d.dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if d.dbEnabled && d.pingDB != nil {
			if err := d.pingDB(r.Context()); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.HandleFunc("GET /v1/session", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.state.View())
	})

	mux.HandleFunc("GET /v1/realtime", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.conn.State())
	})

	mux.HandleFunc("POST /v1/realtime/connect", func(w http.ResponseWriter, _ *http.Request) {
		if !guard(w, d.state, session.AccessUser) {
			return
		}
		if err := d.conn.Connect(); err != nil {
			writeError(w, http.StatusServiceUnavailable, "realtime_stopped", err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, d.conn.State())
	})

	mux.HandleFunc("POST /v1/realtime/disconnect", func(w http.ResponseWriter, _ *http.Request) {
		if err := d.conn.Disconnect(); err != nil {
			writeError(w, http.StatusServiceUnavailable, "realtime_stopped", err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, d.conn.State())
	})

	mux.HandleFunc("GET /v1/inbox", func(w http.ResponseWriter, _ *http.Request) {
		if !guard(w, d.state, session.AccessUser) {
			return
		}
		writeJSON(w, http.StatusOK, d.inbox.Summary())
	})

	mux.HandleFunc("GET /v1/inbox/notifications", func(w http.ResponseWriter, r *http.Request) {
		if !guard(w, d.state, session.AccessUser) {
			return
		}
		limit, ok := queryInt(w, r, "limit", 32)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, d.inbox.Notifications(int(limit)))
	})

	mux.HandleFunc("POST /v1/inbox/notifications/read", func(w http.ResponseWriter, _ *http.Request) {
		if !guard(w, d.state, session.AccessUser) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"marked": d.inbox.MarkNotificationsRead()})
	})

	mux.HandleFunc("GET /v1/inbox/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		if !guard(w, d.state, session.AccessUser) {
			return
		}
		q := realtime.HistoryQuery{ConversationID: r.PathValue("id")}
		if raw := strings.TrimSpace(r.URL.Query().Get("after_seq")); raw != "" {
			after, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || after < 0 {
				writeError(w, http.StatusBadRequest, "invalid_input", "after_seq must be a non-negative integer")
				return
			}
			q.AfterSeq = &after
		}
		limit, ok := queryInt(w, r, "limit", 32)
		if !ok {
			return
		}
		q.Limit = int(limit)

		page, err := d.inbox.History(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, page)
	})

	mux.HandleFunc("POST /v1/inbox/conversations/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		if !guard(w, d.state, session.AccessUser) {
			return
		}
		upTo, ok := queryInt(w, r, "up_to_seq", 64)
		if !ok {
			return
		}
		err := d.conn.MarkRead(r.Context(), d.inbox, r.PathValue("id"), upTo)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, d.inbox.Summary())
		case errors.Is(err, realtime.ErrNotConnected), errors.Is(err, realtime.ErrStopped):
			writeError(w, http.StatusConflict, "not_connected", "realtime connection is not open")
		case errors.Is(err, realtime.ErrRateLimited), errors.Is(err, realtime.ErrSendQueueFull):
			writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
		default:
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		}
	})

	if d.metrics != nil {
		mux.Handle("GET /metrics", d.metrics)
	}
}

// guard applies session.Guard and writes the matching error response.
func guard(w http.ResponseWriter, st *session.State, need session.Access) bool {
	err := session.Guard(st.Snapshot(), need)
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrNotLoggedIn):
		writeError(w, http.StatusUnauthorized, "not_logged_in", "login required")
	default:
		writeError(w, http.StatusForbidden, "forbidden", "access level "+need.String()+" required")
	}
	return false
}

// queryInt reads an optional non-negative integer; sequence numbers need bitSize 64.
func queryInt(w http.ResponseWriter, r *http.Request, key string, bitSize int) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, bitSize)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}
