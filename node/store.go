// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/lib/codec"
	"github.com/bureau-foundation/bootstore/lib/sealed"
	"github.com/bureau-foundation/bootstore/lib/secret"
	"github.com/bureau-foundation/bootstore/lib/statefile"
)

// Store keeps a node's persistent state in a single file, CBOR encoded
// and sealed with age to the node's own key plus any escrow
// recipients.
type Store struct {
	path       string
	identity   *secret.Buffer
	recipients []string
}

// NewStore returns a store for path. identity is the node's age
// private key; the store takes ownership and zeroes it on Close.
func NewStore(path string, identity *secret.Buffer, escrow []string) (*Store, error) {
	publicKey, err := sealed.PublicKey(identity)
	if err != nil {
		identity.Close()
		return nil, fmt.Errorf("node key: %w", err)
	}
	recipients := []string{publicKey}
	for _, recipient := range escrow {
		if err := sealed.ParsePublicKey(recipient); err != nil {
			identity.Close()
			return nil, fmt.Errorf("escrow recipient: %w", err)
		}
		if !slices.Contains(recipients, recipient) {
			recipients = append(recipients, recipient)
		}
	}
	return &Store{path: path, identity: identity, recipients: recipients}, nil
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load restores the peer saved at the store's path, or returns a fresh
// uninitialized peer if nothing has been saved yet.
func (s *Store) Load(id bootstore.Baseboard, config bootstore.Config) (*bootstore.Fsm, error) {
	ciphertext, err := statefile.Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return bootstore.New(id, config), nil
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := sealed.Open(ciphertext, s.identity)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer plaintext.Close()

	var state bootstore.PersistentState
	if err := codec.Unmarshal(plaintext.Bytes(), &state); err != nil {
		state.SharePkg.Close()
		state.LearnedSharePkg.Close()
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	fsm, err := bootstore.Restore(id, config, state)
	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", s.path, err)
	}
	return fsm, nil
}

// Save atomically replaces the state file. The packages referenced by
// state are only read.
func (s *Store) Save(state bootstore.PersistentState) error {
	plaintext, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	defer secret.Zero(plaintext)

	ciphertext, err := sealed.Seal(plaintext, s.recipients)
	if err != nil {
		return fmt.Errorf("sealing state: %w", err)
	}
	return statefile.Write(s.path, ciphertext)
}

// Close zeroes the node key.
func (s *Store) Close() error {
	return s.identity.Close()
}
