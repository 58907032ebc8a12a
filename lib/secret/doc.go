// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for key material: rack
// secrets, individual key shares, and the age identity that seals the
// bootstore's on-disk state.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// tries to lock it into physical RAM via mlock, and marks it excluded
// from core dumps via madvise(MADV_DONTDUMP). On Close, the memory is
// zeroed, unlocked, and unmapped. A Buffer that becomes unreachable
// without being closed is closed by its finalizer, so the backing
// memory is always overwritten before it is released.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [ReadFromPath] -- reads a file (or stdin) into protected memory
//
// A Buffer never prints its contents: it implements fmt.Formatter,
// fmt.GoStringer, and slog.LogValuer with a redacted rendering, so
// structs holding shares can be logged or %+v-formatted safely.
// [Buffer.Equal] uses constant-time comparison.
//
// Depends on golang.org/x/sys/unix. No internal dependencies.
package secret
