package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(opts *RootOptions, info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := map[string]string{
				"version": info.Version,
				"commit":  info.Commit,
				"go":      runtime.Version(),
			}
			text := fmt.Sprintf("blogdesk %s (%s, %s)", info.Version, info.Commit, runtime.Version())
			return newPrinter(cmd, opts).result(v, text)
		},
	}
}
