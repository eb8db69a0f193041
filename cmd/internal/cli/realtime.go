package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"blogdesk/cmd/internal/app"
	"blogdesk/cmd/internal/realtime"

	"github.com/spf13/cobra"
)

type watchOptions struct {
	UntilConnected bool
	Timeout        time.Duration
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	wo := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect the realtime channel and print every state transition",
		Long: `Connect the realtime channel and print every state transition.

Exits non-zero once the reconnect budget is exhausted. With
--until-connected it exits as soon as the connection is up, which makes it
usable as a smoke check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, wo)
		},
	}

	cmd.Flags().BoolVar(&wo.UntilConnected, "until-connected", false, "exit once connected")
	cmd.Flags().DurationVar(&wo.Timeout, "timeout", 0, "give up after this long (0 = no limit)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *RootOptions, wo *watchOptions) error {
	ctx := cmd.Context()
	if wo.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wo.Timeout)
		defer cancel()
	}

	a, states, stop, err := startRealtime(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()

	p := newPrinter(cmd, opts)
	for {
		select {
		case <-ctx.Done():
			if wo.UntilConnected {
				return &ExitError{Code: ExitFailure, Message: "not connected before timeout", Err: ctx.Err()}
			}
			return nil
		case st := <-states:
			if err := p.result(st, describeState(st)); err != nil {
				return err
			}
			switch {
			case st.Status == realtime.StatusConnected && wo.UntilConnected:
				return nil
			case exhausted(st):
				return &ExitError{Code: ExitFailure, Message: st.StatusMessage}
			}
		case <-a.Realtime().Done():
			return nil
		}
	}
}

type sendOptions struct {
	Timeout time.Duration
}

func newSendCommand(opts *RootOptions) *cobra.Command {
	so := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text>",
		Short: "Send one chat message and wait for the server ack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, opts, so, args[0], args[1])
		},
	}
	cmd.Flags().DurationVar(&so.Timeout, "timeout", 15*time.Second, "overall deadline")
	return cmd
}

func runSend(cmd *cobra.Command, opts *RootOptions, so *sendOptions, conversationID, text string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), so.Timeout)
	defer cancel()

	a, states, stop, err := startRealtime(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()

	if err := waitConnected(ctx, states); err != nil {
		return err
	}

	clientMsgID, err := a.Realtime().SendChat(ctx, a.Inbox(), conversationID, text)
	if err != nil {
		return WrapExitError(ExitFailure, "send", err)
	}

	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for pendingFor(a.Inbox(), conversationID) > 0 {
		select {
		case <-ctx.Done():
			return &ExitError{Code: ExitFailure, Message: "no ack for " + clientMsgID, Err: ctx.Err()}
		case <-tick.C:
		}
	}

	out := map[string]string{"conversation_id": conversationID, "client_msg_id": clientMsgID}
	return newPrinter(cmd, opts).result(out, "sent "+clientMsgID)
}

// startRealtime resolves the session and starts the connection manager.
// states receives every published State; stop disconnects and waits for the loop.
func startRealtime(ctx context.Context, opts *RootOptions) (*app.App, <-chan realtime.State, func(), error) {
	a, err := openApp(ctx, opts)
	if err != nil {
		return nil, nil, nil, err
	}

	sess, err := a.Session().ResolveInitialSession(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, nil, nil, WrapExitError(ExitCommandError, "load session", err)
	}
	if !sess.IsLoggedIn {
		_ = a.Close(ctx)
		return nil, nil, nil, &ExitError{Code: ExitFailure, Message: "not logged in"}
	}

	states := make(chan realtime.State, 64)
	unsubscribe := a.Realtime().Subscribe(func(st realtime.State) {
		select {
		case states <- st:
		default:
		}
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() { _ = a.Realtime().Run(runCtx) }()

	if err := a.Realtime().Connect(); err != nil {
		unsubscribe()
		cancel()
		_ = a.Close(ctx)
		return nil, nil, nil, WrapExitError(ExitFailure, "connect", err)
	}

	stop := func() {
		unsubscribe()
		cancel()
		<-a.Realtime().Done()
		_ = a.Close(context.WithoutCancel(ctx))
	}
	return a, states, stop, nil
}

func waitConnected(ctx context.Context, states <-chan realtime.State) error {
	for {
		select {
		case <-ctx.Done():
			return &ExitError{Code: ExitFailure, Message: "not connected before timeout", Err: ctx.Err()}
		case st := <-states:
			if st.Status == realtime.StatusConnected {
				return nil
			}
			if exhausted(st) {
				return &ExitError{Code: ExitFailure, Message: st.StatusMessage}
			}
		}
	}
}

func pendingFor(inbox *realtime.Inbox, conversationID string) int {
	for _, c := range inbox.Summary().Conversations {
		if c.ConversationID == conversationID {
			return c.Pending
		}
	}
	return 0
}

// exhausted reports the resting state reached after the reconnect budget ran out.
func exhausted(st realtime.State) bool {
	return st.Status == realtime.StatusDisconnected && st.LastError != ""
}

func describeState(st realtime.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-12s %s", st.Since.Local().Format("15:04:05"), st.Status, st.StatusMessage)
	if st.LastError != "" {
		fmt.Fprintf(&b, " (%s)", st.LastError)
	}
	return b.String()
}
