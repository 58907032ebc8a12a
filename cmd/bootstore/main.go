// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bootstore runs and operates a rack secret bootstrap node. See
// "bootstore --help".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/bootstore/cmd/bootstore/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like status) return an
		// ExitError with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return commands.Root(os.Stdout).Execute(ctx, os.Args[1:])
}
