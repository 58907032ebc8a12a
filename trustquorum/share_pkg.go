// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trustquorum

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/bootstore/lib/secret"
)

const (
	// MinMembers is the smallest rack that can be initialized.
	MinMembers = 2

	// MaxLearners is the number of spare shares encrypted into every
	// founding member's package, and so the number of peers that can
	// join after initialization.
	MaxLearners = 32
)

// learnerKeyInfo is the HKDF info string for the learner share key.
var learnerKeyInfo = []byte("bootstore.v0.learner-shares")

// ErrDecryptLearnerShares is returned when the encrypted learner
// shares cannot be opened, which means the supplied rack secret is
// not the one the package was created with.
var ErrDecryptLearnerShares = errors.New("learner shares do not decrypt under this rack secret")

// Threshold returns the number of shares needed to reconstruct the
// rack secret for a rack with the given number of founding members: a
// strict majority, never fewer than two.
func Threshold(members int) int {
	return max(2, members/2+1)
}

// SharePkg is what a founding member receives at rack initialization.
type SharePkg struct {
	RackUUID  uuid.UUID `cbor:"rack_uuid"`
	Threshold int       `cbor:"threshold"`
	// Members is the number of founding members. Learner shares are
	// indexed from Members upward.
	Members      int      `cbor:"members"`
	Share        *Share   `cbor:"share"`
	ShareDigests []Digest `cbor:"share_digests"`
	// Nonce and EncryptedShares hold the spare learner shares, sealed
	// with XChaCha20-Poly1305 under a key derived from the rack secret.
	Nonce           []byte `cbor:"nonce"`
	EncryptedShares []byte `cbor:"encrypted_shares"`
}

// LearnedSharePkg is what a learner receives from a founding member.
type LearnedSharePkg struct {
	RackUUID     uuid.UUID `cbor:"rack_uuid"`
	Threshold    int       `cbor:"threshold"`
	Share        *Share    `cbor:"share"`
	ShareDigests []Digest  `cbor:"share_digests"`
}

// CreatePkgs generates a fresh rack secret, splits it, and returns one
// SharePkg per founding member. Package i holds the share with index i.
// The rack secret itself is discarded.
func CreatePkgs(rackUUID uuid.UUID, members int) ([]*SharePkg, error) {
	if members < MinMembers {
		return nil, fmt.Errorf("rack needs at least %d members, got %d", MinMembers, members)
	}
	total := members + MaxLearners
	if total > MaxShares {
		return nil, fmt.Errorf("rack of %d members exceeds the maximum of %d", members, MaxShares-MaxLearners)
	}

	rackSecret, err := NewRackSecret()
	if err != nil {
		return nil, err
	}
	defer rackSecret.Close()

	threshold := Threshold(members)
	shares, err := rackSecret.Split(threshold, total)
	if err != nil {
		return nil, err
	}
	defer closeShares(shares)

	digests := make([]Digest, total)
	for index, share := range shares {
		digests[index] = share.Digest()
	}

	nonce, ciphertext, err := encryptLearnerShares(rackSecret, rackUUID, shares[members:])
	if err != nil {
		return nil, err
	}

	pkgs := make([]*SharePkg, 0, members)
	for _, share := range shares[:members] {
		owned, err := share.Clone()
		if err != nil {
			for _, pkg := range pkgs {
				pkg.Close()
			}
			return nil, err
		}
		pkgs = append(pkgs, &SharePkg{
			RackUUID:        rackUUID,
			Threshold:       threshold,
			Members:         members,
			Share:           owned,
			ShareDigests:    slices.Clone(digests),
			Nonce:           slices.Clone(nonce),
			EncryptedShares: slices.Clone(ciphertext),
		})
	}
	return pkgs, nil
}

func deriveLearnerKey(rackSecret *RackSecret, rackUUID uuid.UUID) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, rackSecret.Bytes(), rackUUID[:], learnerKeyInfo)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		secret.Zero(key)
		return nil, fmt.Errorf("deriving learner share key: %w", err)
	}
	return secret.NewFromBytes(key)
}

func encryptLearnerShares(rackSecret *RackSecret, rackUUID uuid.UUID, shares []*Share) (nonce, ciphertext []byte, err error) {
	key, err := deriveLearnerKey(rackSecret, rackUUID)
	if err != nil {
		return nil, nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("creating learner share cipher: %w", err)
	}

	plaintext := make([]byte, 0, len(shares)*SecretSize)
	for _, share := range shares {
		plaintext = append(plaintext, share.Bytes()...)
	}
	defer secret.Zero(plaintext)

	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, rackUUID[:]), nil
}

// DecryptLearnerShares opens the spare learner shares with the
// reconstructed rack secret. The caller owns the returned shares.
func (p *SharePkg) DecryptLearnerShares(rackSecret *RackSecret) ([]*Share, error) {
	key, err := deriveLearnerKey(rackSecret, p.RackUUID)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating learner share cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, p.Nonce, p.EncryptedShares, p.RackUUID[:])
	if err != nil {
		return nil, ErrDecryptLearnerShares
	}
	defer secret.Zero(plaintext)
	if len(plaintext)%SecretSize != 0 {
		return nil, fmt.Errorf("learner share plaintext is %d bytes, not a multiple of %d", len(plaintext), SecretSize)
	}

	count := len(plaintext) / SecretSize
	shares := make([]*Share, 0, count)
	for offset := 0; offset < count; offset++ {
		value := plaintext[offset*SecretSize : (offset+1)*SecretSize]
		share, err := NewShare(p.Members+offset, value)
		if err != nil {
			closeShares(shares)
			return nil, err
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// VerifyShare reports whether share is one of this rack's shares.
func (p *SharePkg) VerifyShare(share *Share) bool {
	return VerifyShare(p.ShareDigests, share)
}

// Learned builds the package handed to a learner. It takes ownership
// of share.
func (p *SharePkg) Learned(share *Share) *LearnedSharePkg {
	return &LearnedSharePkg{
		RackUUID:     p.RackUUID,
		Threshold:    p.Threshold,
		Share:        share,
		ShareDigests: slices.Clone(p.ShareDigests),
	}
}

// Equal reports whether two packages are the same package. Used to
// recognize a retried Init.
func (p *SharePkg) Equal(other *SharePkg) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.RackUUID == other.RackUUID &&
		p.Threshold == other.Threshold &&
		p.Members == other.Members &&
		p.Share.Equal(other.Share) &&
		slices.Equal(p.ShareDigests, other.ShareDigests) &&
		slices.Equal(p.Nonce, other.Nonce) &&
		slices.Equal(p.EncryptedShares, other.EncryptedShares)
}

// Clone returns an independently owned copy.
func (p *SharePkg) Clone() (*SharePkg, error) {
	share, err := p.Share.Clone()
	if err != nil {
		return nil, err
	}
	return &SharePkg{
		RackUUID:        p.RackUUID,
		Threshold:       p.Threshold,
		Members:         p.Members,
		Share:           share,
		ShareDigests:    slices.Clone(p.ShareDigests),
		Nonce:           slices.Clone(p.Nonce),
		EncryptedShares: slices.Clone(p.EncryptedShares),
	}, nil
}

// Close releases the package's share. Safe on nil.
func (p *SharePkg) Close() error {
	if p == nil {
		return nil
	}
	return p.Share.Close()
}

// VerifyShare reports whether share is one of this rack's shares.
func (p *LearnedSharePkg) VerifyShare(share *Share) bool {
	return VerifyShare(p.ShareDigests, share)
}

// Equal reports whether two learned packages are identical.
func (p *LearnedSharePkg) Equal(other *LearnedSharePkg) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.RackUUID == other.RackUUID &&
		p.Threshold == other.Threshold &&
		p.Share.Equal(other.Share) &&
		slices.Equal(p.ShareDigests, other.ShareDigests)
}

// Clone returns an independently owned copy.
func (p *LearnedSharePkg) Clone() (*LearnedSharePkg, error) {
	share, err := p.Share.Clone()
	if err != nil {
		return nil, err
	}
	return &LearnedSharePkg{
		RackUUID:     p.RackUUID,
		Threshold:    p.Threshold,
		Share:        share,
		ShareDigests: slices.Clone(p.ShareDigests),
	}, nil
}

// Close releases the package's share. Safe on nil.
func (p *LearnedSharePkg) Close() error {
	if p == nil {
		return nil
	}
	return p.Share.Close()
}
