// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trustquorum

import (
	"fmt"
	"log/slog"

	"github.com/zeebo/blake3"
	"go.dedis.ch/kyber/v3"

	"github.com/bureau-foundation/bootstore/lib/codec"
	"github.com/bureau-foundation/bootstore/lib/secret"
)

// shareDigestDomain separates share digests from any other BLAKE3 use
// of the same bytes.
var shareDigestDomain = []byte("bootstore.v0.share-digest")

// Digest is the BLAKE3-256 digest of one share, used to verify shares
// received from other peers.
type Digest [32]byte

// Share is one peer's fragment of the rack secret: the polynomial
// evaluated at Index+1. Index is public; the value is secret.
type Share struct {
	Index int
	value *secret.Buffer
}

// NewShare copies value into protected memory and zeros the source.
func NewShare(index int, value []byte) (*Share, error) {
	if index < 0 || index >= MaxShares {
		secret.Zero(value)
		return nil, fmt.Errorf("share index %d out of range", index)
	}
	if len(value) != SecretSize {
		secret.Zero(value)
		return nil, fmt.Errorf("share value is %d bytes, want %d", len(value), SecretSize)
	}
	buffer, err := secret.NewFromBytes(value)
	if err != nil {
		return nil, fmt.Errorf("protecting share: %w", err)
	}
	return &Share{Index: index, value: buffer}, nil
}

func shareFromScalar(index int, value kyber.Scalar) (*Share, error) {
	raw, err := value.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding share %d: %w", index, err)
	}
	return NewShare(index, raw)
}

// scalar decodes the share value. The caller must Zero the result.
func (s *Share) scalar() (kyber.Scalar, error) {
	value := suite.Scalar()
	if err := value.UnmarshalBinary(s.value.Bytes()); err != nil {
		return nil, fmt.Errorf("decoding share %d: %w", s.Index, err)
	}
	return value, nil
}

// Bytes returns the share value. The slice aliases protected memory
// and is invalid after Close.
func (s *Share) Bytes() []byte { return s.value.Bytes() }

// Digest returns the BLAKE3 digest of the share value.
func (s *Share) Digest() Digest {
	hasher := blake3.New()
	hasher.Write(shareDigestDomain)
	hasher.Write(s.value.Bytes())
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Equal reports whether both shares have the same index and value.
func (s *Share) Equal(other *Share) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Index == other.Index && s.value.Equal(other.value)
}

// Clone returns an independently owned copy.
func (s *Share) Clone() (*Share, error) {
	value, err := s.value.Clone()
	if err != nil {
		return nil, fmt.Errorf("cloning share %d: %w", s.Index, err)
	}
	return &Share{Index: s.Index, value: value}, nil
}

// Close zeros and releases the share value. Safe on nil.
func (s *Share) Close() error {
	if s == nil {
		return nil
	}
	return s.value.Close()
}

// Format implements fmt.Formatter; only the index is printed.
func (s *Share) Format(state fmt.State, verb rune) {
	fmt.Fprintf(state, "Share(%d)", s.Index)
}

// LogValue implements slog.LogValuer.
func (s *Share) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("index", s.Index), slog.String("value", "[REDACTED]"))
}

type shareWire struct {
	Index int    `cbor:"index"`
	Value []byte `cbor:"value"`
}

// MarshalCBOR encodes the share for the wire or the state file. The
// transient heap copy of the value is zeroed; the returned encoding
// necessarily contains the value and must be handled as secret.
func (s *Share) MarshalCBOR() ([]byte, error) {
	value := make([]byte, SecretSize)
	copy(value, s.value.Bytes())
	defer secret.Zero(value)
	return codec.Marshal(shareWire{Index: s.Index, Value: value})
}

// UnmarshalCBOR decodes a share into fresh protected memory.
func (s *Share) UnmarshalCBOR(data []byte) error {
	var wire shareWire
	if err := codec.Unmarshal(data, &wire); err != nil {
		secret.Zero(wire.Value)
		return fmt.Errorf("decoding share: %w", err)
	}
	decoded, err := NewShare(wire.Index, wire.Value)
	if err != nil {
		return err
	}
	s.Index = decoded.Index
	s.value = decoded.value
	return nil
}

// closeShares releases every share in the slice.
func closeShares(shares []*Share) {
	for _, share := range shares {
		share.Close()
	}
}

// VerifyShare reports whether share matches the digest recorded for
// its index.
func VerifyShare(digests []Digest, share *Share) bool {
	if share == nil || share.Index < 0 || share.Index >= len(digests) {
		return false
	}
	return digests[share.Index] == share.Digest()
}
