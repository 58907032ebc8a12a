// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trustquorum

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zeebo/blake3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	kybershare "go.dedis.ch/kyber/v3/share"

	"github.com/bureau-foundation/bootstore/lib/secret"
)

// SecretSize is the encoded size of the rack secret and of each share.
const SecretSize = 32

// MaxShares bounds the total number of shares (members plus learner
// spares) one rack secret is split into.
const MaxShares = 255

// ErrNotEnoughShares is returned by Combine when fewer than threshold
// distinct shares are supplied.
var ErrNotEnoughShares = errors.New("not enough distinct shares to reconstruct rack secret")

var suite = edwards25519.NewBlakeSHA256Ed25519()

// RackSecret is the rack-wide secret protected by threshold sharing.
type RackSecret struct {
	buffer *secret.Buffer
}

// NewRackSecret generates a uniformly random rack secret.
func NewRackSecret() (*RackSecret, error) {
	value := suite.Scalar().Pick(suite.RandomStream())
	defer value.Zero()
	return rackSecretFromScalar(value)
}

func rackSecretFromScalar(value kyber.Scalar) (*RackSecret, error) {
	raw, err := value.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding rack secret: %w", err)
	}
	buffer, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("protecting rack secret: %w", err)
	}
	return &RackSecret{buffer: buffer}, nil
}

// Split divides the secret into n shares, any threshold of which
// reconstruct it. Shares are indexed 0 through n-1.
func (s *RackSecret) Split(threshold, n int) ([]*Share, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("threshold %d is below the minimum of 2", threshold)
	}
	if threshold > n {
		return nil, fmt.Errorf("threshold %d exceeds share count %d", threshold, n)
	}
	if n > MaxShares {
		return nil, fmt.Errorf("share count %d exceeds maximum %d", n, MaxShares)
	}

	value := suite.Scalar()
	if err := value.UnmarshalBinary(s.buffer.Bytes()); err != nil {
		return nil, fmt.Errorf("decoding rack secret: %w", err)
	}
	defer value.Zero()

	polynomial := kybershare.NewPriPoly(suite, threshold, value, suite.RandomStream())
	priShares := polynomial.Shares(n)

	shares := make([]*Share, 0, n)
	for _, priShare := range priShares {
		share, err := shareFromScalar(priShare.I, priShare.V)
		priShare.V.Zero()
		if err != nil {
			closeShares(shares)
			return nil, err
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// Combine reconstructs the rack secret from at least threshold shares
// with distinct indices. Repeated indices count once.
func Combine(shares []*Share, threshold int) (*RackSecret, error) {
	seen := make(map[int]bool, len(shares))
	priShares := make([]*kybershare.PriShare, 0, len(shares))
	defer func() {
		for _, priShare := range priShares {
			priShare.V.Zero()
		}
	}()

	for _, share := range shares {
		if share == nil || seen[share.Index] {
			continue
		}
		seen[share.Index] = true
		value, err := share.scalar()
		if err != nil {
			return nil, err
		}
		priShares = append(priShares, &kybershare.PriShare{I: share.Index, V: value})
	}
	if len(priShares) < threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughShares, len(priShares), threshold)
	}

	value, err := kybershare.RecoverSecret(suite, priShares, threshold, len(priShares))
	if err != nil {
		return nil, fmt.Errorf("recovering rack secret: %w", err)
	}
	defer value.Zero()
	return rackSecretFromScalar(value)
}

// Bytes returns the secret for use as input key material. The slice
// aliases protected memory and is invalid after Close.
func (s *RackSecret) Bytes() []byte { return s.buffer.Bytes() }

// Equal compares two secrets in constant time.
func (s *RackSecret) Equal(other *RackSecret) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.buffer.Equal(other.buffer)
}

var fingerprintDomain = []byte("bootstore.v0.rack-secret-fingerprint")

// Fingerprint returns a short public identifier of the secret: the
// first 8 bytes of a domain-separated BLAKE3 digest, in hex. Two nodes
// holding the same secret report the same fingerprint.
func (s *RackSecret) Fingerprint() string {
	hasher := blake3.New()
	hasher.Write(fingerprintDomain)
	hasher.Write(s.buffer.Bytes())
	return hex.EncodeToString(hasher.Sum(nil)[:8])
}

// Clone returns an independently owned copy.
func (s *RackSecret) Clone() (*RackSecret, error) {
	buffer, err := s.buffer.Clone()
	if err != nil {
		return nil, fmt.Errorf("cloning rack secret: %w", err)
	}
	return &RackSecret{buffer: buffer}, nil
}

// Close zeros and releases the secret. Safe on nil.
func (s *RackSecret) Close() error {
	if s == nil {
		return nil
	}
	return s.buffer.Close()
}

// Format implements fmt.Formatter with a redacted rendering.
func (s *RackSecret) Format(state fmt.State, verb rune) {
	fmt.Fprint(state, "RackSecret([REDACTED])")
}

// LogValue implements slog.LogValuer.
func (s *RackSecret) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }
