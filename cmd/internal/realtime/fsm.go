package realtime

import (
	"fmt"
)

// Transition computes the next state for ev. Events that do not apply to the
// current status return st unchanged and EffectNone.
func Transition(st State, ev Event) (State, Effect) {
	switch ev.Kind {
	case EventConnect:
		if st.Status != StatusDisconnected {
			return st, EffectNone
		}
		next := st
		next.Status = StatusConnecting
		next.StatusMessage = "connecting"
		next.ReconnectAttempts = 0
		next.LastError = ""
		next.Since = ev.At
		return next, EffectDial

	case EventOpen:
		if st.Status != StatusConnecting {
			return st, EffectNone
		}
		next := st
		next.Status = StatusConnected
		next.StatusMessage = "connected"
		next.ReconnectAttempts = 0
		next.LastError = ""
		next.Since = ev.At
		return next, EffectNone

	case EventClose, EventError:
		if st.Status != StatusConnecting && st.Status != StatusConnected {
			return st, EffectNone
		}
		next := st
		next.Since = ev.At
		next.LastError = describe(ev)
		if st.ReconnectAttempts >= st.MaxReconnectAttempts {
			next.Status = StatusDisconnected
			next.StatusMessage = fmt.Sprintf("reconnect budget exhausted after %d attempts", st.ReconnectAttempts)
			return next, EffectCloseConn
		}
		next.Status = StatusReconnecting
		next.ReconnectAttempts = st.ReconnectAttempts + 1
		next.StatusMessage = fmt.Sprintf("connection lost, retrying in %s (attempt %d/%d)",
			st.ReconnectInterval, next.ReconnectAttempts, st.MaxReconnectAttempts)
		return next, EffectCloseConn | EffectScheduleRetry

	case EventRetry:
		if st.Status != StatusReconnecting {
			return st, EffectNone
		}
		next := st
		next.Status = StatusConnecting
		next.StatusMessage = fmt.Sprintf("reconnecting (attempt %d/%d)", st.ReconnectAttempts, st.MaxReconnectAttempts)
		next.Since = ev.At
		return next, EffectDial

	case EventMessage:
		if st.Status != StatusConnected {
			return st, EffectNone
		}
		return st, EffectDeliver

	case EventDisconnect:
		if st.Status == StatusDisconnected {
			return st, EffectNone
		}
		next := st
		next.Status = StatusDisconnected
		next.StatusMessage = "disconnected"
		next.ReconnectAttempts = 0
		// A requested disconnect is not an exhausted budget.
		next.LastError = ""
		next.Since = ev.At
		return next, EffectCancelRetry | EffectCloseConn
	}
	return st, EffectNone
}

func describe(ev Event) string {
	if ev.Err != nil {
		return ev.Err.Error()
	}
	if ev.Kind == EventClose {
		return "connection closed"
	}
	return "connection error"
}
