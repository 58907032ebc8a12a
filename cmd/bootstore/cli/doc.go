// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the bootstore binary: a tree
// of [Command] values with pflag flag sets, structured help output,
// and "did you mean" suggestions for mistyped commands and flags.
//
// A command returns an error to fail. An error implementing
// ExitCode() int, such as [ExitError], sets the process exit code
// without printing an extra error line.
package cli
