package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"blogdesk/cmd/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.NewRootCommand(cli.BuildInfo{Version: version, Commit: commit}).ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "blogdesk:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
