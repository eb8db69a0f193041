// Package realtime owns the client's single WebSocket connection to the blog
// server (notifications and chat).
//
// Connection lifecycle is a finite-state machine: transport callbacks, the
// retry timer and explicit connect/disconnect requests are all turned into
// Events and fed through Transition on one event-loop goroutine. Transition is
// pure; the loop applies the returned Effect (dial, schedule or cancel the
// retry timer, close the transport, deliver a message).
//
// Reconnects use a fixed interval and a bounded attempt counter. When the
// budget is spent the manager rests in StatusDisconnected until an explicit
// Connect.
package realtime
