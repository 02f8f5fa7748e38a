// Command couchctl is a command-line client for CouchDB-compatible servers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := newCLI(os.Stdin, os.Stdout, os.Stderr)
	if err := newRootCommand(cli).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "couchctl:", err)
		os.Exit(1)
	}
}
