// Package cli holds the cobra commands of the blogdesk binary.
package cli

import (
	"context"
	"fmt"

	"blogdesk/cmd/internal/app"

	"github.com/spf13/cobra"
)

// Output formats accepted by --format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool
}

// BuildInfo is stamped by the linker.
type BuildInfo struct {
	Version string
	Commit  string
}

// NewRootCommand creates the root command for the blogdesk CLI.
func NewRootCommand(info BuildInfo) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "blogdesk",
		Short: "blogdesk - blog session and realtime client",
		Long: `blogdesk keeps a signed-in blog session and its realtime channel alive.

It resolves stored credentials against the blog API, reconnects the
notification/chat WebSocket within a bounded budget and exposes both
through a local status server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != FormatText && opts.Format != FormatJSON {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be text or json", opts.Format), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (default $BLOGDESK_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging for one-shot commands")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newLogoutCommand(opts))
	cmd.AddCommand(newWhoAmICommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newVersionCommand(opts, info))

	return cmd
}

// openApp builds the runtime for a one-shot command. Logs stay at warn unless -v.
func openApp(ctx context.Context, opts *RootOptions) (*app.App, error) {
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	a, err := app.Open(ctx, opts.ConfigPath, level)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open", err)
	}
	return a, nil
}

func newPrinter(cmd *cobra.Command, opts *RootOptions) printer {
	return printer{format: opts.Format, w: cmd.OutOrStdout()}
}
