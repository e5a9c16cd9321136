// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package datafeedkey

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher is a one-way hash over raw keys.
type Hasher interface {
	Algorithm() Algorithm

	// Hash returns the encoded hash of rawKey. salt is the stored
	// base64 salt for algorithms that take one; others ignore it.
	Hash(rawKey, salt string) (string, error)

	// Verify reports whether rawKey hashes to key.Hash.
	Verify(rawKey string, key *HashedKey) (bool, error)

	// Deterministic reports whether Hash with a stored salt
	// reproduces the stored hash exactly, so keys can be found by
	// hashing the presented key and indexing on the result.
	Deterministic() bool

	// NewSalt returns a fresh salt for a new key, or "" when the
	// algorithm manages its own.
	NewSalt() (string, error)
}

// Argon2Params tunes Argon2id. Changing parameters invalidates every
// hash produced with the old ones.
type Argon2Params struct {
	Iterations  uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  int
}

// DefaultArgon2Params costs tens of milliseconds per hash.
var DefaultArgon2Params = Argon2Params{
	Iterations:  2,
	MemoryKiB:   64 * 1024,
	Parallelism: 1,
	KeyLength:   48,
	SaltLength:  16,
}

// Argon2Hasher implements Argon2ID. Hashes are hex-encoded.
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher returns an Argon2id hasher with params.
func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	return &Argon2Hasher{params: params}
}

func (h *Argon2Hasher) Algorithm() Algorithm { return Argon2ID }

func (h *Argon2Hasher) Deterministic() bool { return true }

func (h *Argon2Hasher) Hash(rawKey, salt string) (string, error) {
	saltBytes, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("datafeedkey: decoding argon2 salt: %w", err)
	}
	derived := argon2.IDKey([]byte(rawKey), saltBytes, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)
	return hex.EncodeToString(derived), nil
}

func (h *Argon2Hasher) Verify(rawKey string, key *HashedKey) (bool, error) {
	computed, err := h.Hash(rawKey, key.Salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(key.Hash)) == 1, nil
}

func (h *Argon2Hasher) NewSalt() (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("datafeedkey: generating salt: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(salt), nil
}

// BCryptHasher implements BCrypt. The raw key is longer than bcrypt's
// 72-byte input limit, so it is first reduced to a BLAKE3 digest.
type BCryptHasher struct {
	cost int
}

// NewBCryptHasher returns a bcrypt hasher with cost.
func NewBCryptHasher(cost int) *BCryptHasher {
	return &BCryptHasher{cost: cost}
}

func (h *BCryptHasher) Algorithm() Algorithm { return BCrypt }

func (h *BCryptHasher) Deterministic() bool { return false }

func (h *BCryptHasher) Hash(rawKey, _ string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword(prehash(rawKey), h.cost)
	if err != nil {
		return "", fmt.Errorf("datafeedkey: bcrypt: %w", err)
	}
	return string(hashed), nil
}

func (h *BCryptHasher) Verify(rawKey string, key *HashedKey) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(key.Hash), prehash(rawKey))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("datafeedkey: bcrypt: %w", err)
	}
	return true, nil
}

func (h *BCryptHasher) NewSalt() (string, error) { return "", nil }

func prehash(rawKey string) []byte {
	digest := blake3.Sum256([]byte(rawKey))
	return []byte(base64.RawStdEncoding.EncodeToString(digest[:]))
}

// DefaultHashers returns the production hashers for both algorithms.
func DefaultHashers() []Hasher {
	return []Hasher{
		NewArgon2Hasher(DefaultArgon2Params),
		NewBCryptHasher(bcrypt.DefaultCost),
	}
}
