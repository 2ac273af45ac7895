package main

// ============================================================================
// mcpipe entry point
// 1. Build the CLI and run it under a context cancelled by SIGINT/SIGTERM
// 2. A declined cleanup stops the program cleanly with status 0
// 3. Any other error prints a diagnostic and exits with status 1
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ChuLiYu/mcpipe/internal/cli"
	"github.com/ChuLiYu/mcpipe/internal/layout"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.BuildCLI().ExecuteContext(ctx)
	stop()

	if errors.Is(err, layout.ErrUserAbort) {
		fmt.Println("Program stopped by user")
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
