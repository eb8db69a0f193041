package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"blogdesk/cmd/internal/app"
	authapi "blogdesk/cmd/internal/auth/api"
	"blogdesk/cmd/internal/auth/session"

	"github.com/spf13/cobra"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Resolve the session, keep realtime connected and serve the status surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Run(cmd.Context(), opts.ConfigPath); err != nil {
				if errors.Is(err, app.ErrConfig) {
					return WrapExitError(ExitCommandError, "run", err)
				}
				return err
			}
			return nil
		},
	}
}

type loginOptions struct {
	Username      string
	PasswordStdin bool
}

func newLoginCommand(opts *RootOptions) *cobra.Command {
	lo := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the token pair",
		Long: `Sign in with a username or email.

The password is read from stdin with --password-stdin, otherwise from
$BLOGDESK_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts, lo)
		},
	}

	cmd.Flags().StringVarP(&lo.Username, "username", "u", "", "username or email")
	cmd.Flags().BoolVar(&lo.PasswordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func runLogin(cmd *cobra.Command, opts *RootOptions, lo *loginOptions) error {
	password, err := readPassword(cmd.InOrStdin(), lo.PasswordStdin)
	if err != nil {
		return WrapExitError(ExitCommandError, "login", err)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	sess, err := a.Session().Login(ctx, lo.Username, password)
	if err != nil {
		if authapi.IsUnauthorized(err) {
			return WrapExitError(ExitFailure, "login rejected", err)
		}
		return WrapExitError(ExitFailure, "login", err)
	}

	view := session.ViewOf(sess)
	return newPrinter(cmd, opts).result(view, fmt.Sprintf("logged in as %s (id %d)", sess.CurrentUser.DisplayName(), view.UserID))
}

func readPassword(r io.Reader, fromStdin bool) (string, error) {
	if !fromStdin {
		p := os.Getenv("BLOGDESK_PASSWORD")
		if p == "" {
			return "", errors.New("no password: use --password-stdin or set BLOGDESK_PASSWORD")
		}
		return p, nil
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

func newLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the server session and clear stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			if _, err := a.Session().ResolveInitialSession(ctx); err != nil {
				return WrapExitError(ExitCommandError, "load session", err)
			}
			if err := a.Session().Logout(ctx); err != nil {
				return WrapExitError(ExitCommandError, "logout", err)
			}
			return newPrinter(cmd, opts).result(a.Session().State().View(), "logged out")
		},
	}
}

func newWhoAmICommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Resolve the stored session and print who is signed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			sess, err := a.Session().ResolveInitialSession(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "load session", err)
			}
			view := session.ViewOf(sess)
			if err := newPrinter(cmd, opts).result(view, describeSession(sess)); err != nil {
				return err
			}
			if !sess.IsLoggedIn {
				return &ExitError{Code: ExitFailure, Message: "not logged in"}
			}
			return nil
		},
	}
}

func describeSession(s session.Session) string {
	switch {
	case !s.IsLoggedIn:
		return "not logged in"
	case s.Pending():
		return "logged in (identity not verified yet: the blog API was unreachable)"
	case s.IsAdmin():
		return fmt.Sprintf("%s (id %d, admin)", s.CurrentUser.DisplayName(), s.CurrentUser.ID)
	default:
		return fmt.Sprintf("%s (id %d)", s.CurrentUser.DisplayName(), s.CurrentUser.ID)
	}
}
