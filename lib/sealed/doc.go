// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts the bootstore's persisted state at rest with
// filippo.io/age. A node holds one x25519 identity in its key file;
// every state file is sealed to that identity's recipient, plus any
// escrow recipients the operator configures.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Seal] -- encrypt to age public key recipients
//   - [Open] -- decrypt with a secret.Buffer identity
//   - [PublicKey] / [ParsePublicKey] -- key derivation and validation
//
// Private keys and decrypted plaintext are returned as [secret.Buffer]
// values. Depends on lib/secret for secure memory allocation.
package sealed
