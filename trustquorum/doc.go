// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trustquorum implements the secret material of a rack: the
// rack secret itself, the threshold shares it is split into, and the
// per-peer share packages handed out at rack initialization.
//
// The rack secret is a uniformly random edwards25519 scalar. It is
// split with Shamir secret sharing (go.dedis.ch/kyber/v3/share) into
// one share per founding member plus [MaxLearners] spare shares. The
// spare shares are encrypted under a key derived from the rack secret
// (HKDF-SHA256, XChaCha20-Poly1305) and the ciphertext is copied into
// every founding member's [SharePkg]. A peer that joins later learns
// one of the spares: a founding member collects a threshold of shares,
// reconstructs the secret, decrypts the spares, and hands one out as a
// [LearnedSharePkg]. No peer ever receives the rack secret over the
// wire.
//
// Every package also carries the BLAKE3 digest of every share, so a
// peer can reject a corrupted or forged share before it is used in a
// reconstruction.
//
// All secret values live in [secret.Buffer] memory and print as
// redacted. Callers own what they are handed and must Close it.
package trustquorum
