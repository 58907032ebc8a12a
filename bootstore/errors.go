// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import "errors"

// Errors surfaced to the local API caller, either returned directly
// in Output.APIOutput or delivered later when a tracked exchange
// fails. Errors that carry a cause wrap both the sentinel and the
// cause, so errors.Is works for either.
var (
	ErrRackAlreadyInitialized = errors.New("rack already initialized")
	ErrPeerAlreadyInitialized = errors.New("peer already initialized")
	ErrRackNotInitialized     = errors.New("rack not initialized")
	ErrStillLearning          = errors.New("peer is still learning its share")
	ErrRackInitFailed         = errors.New("rack initialization failed")

	// ErrRackInitTimeout means not every founding member acknowledged
	// its share package within the rack init timeout. The rack must be
	// reset on every sled before initialization is tried again.
	ErrRackInitTimeout = errors.New("rack initialization timed out")

	// ErrRackSecretLoadTimeout means a threshold of shares was not
	// collected within the rack secret request timeout.
	ErrRackSecretLoadTimeout = errors.New("timed out loading rack secret")

	ErrFailedToReconstructRackSecret = errors.New("failed to reconstruct rack secret")
)
