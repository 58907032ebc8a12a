// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for bootstore packages.
//
// Driver tests advance a fake clock for protocol time. Wall-clock
// waits happen only here, bounded by a timeout: [RequireReceive] for
// channels, [Eventually] for published state, and [WaitForPath] for
// sockets that appear asynchronously.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
