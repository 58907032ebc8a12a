// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile provides atomic file replacement and directory
// locking for the bootstore's persisted state.
//
// [Write] goes through a temporary file, fsync, rename, and a
// directory fsync, so a crash at any point leaves either the previous
// state or the new one on disk, never a torn write. The bootstore
// relies on this for its persist-before-send rule: a share package
// acknowledged to a peer is already durable.
//
// [Lock] takes a non-blocking flock so a second daemon pointed at the
// same directory fails fast instead of racing the first.
package statefile
