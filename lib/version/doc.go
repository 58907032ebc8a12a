// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the bootstore
// binary.
//
// Four package-level variables are injected at build time via
// -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/bootstore/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When GitCommit is not injected, the revision the go command stamps
// into the binary is used instead. [Info] is the one-line form printed
// by "bootstore version" and logged at startup; [Full] adds the Go
// version and platform. The version is also exported as the
// bootstore_build_info metric.
package version
