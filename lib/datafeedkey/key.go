// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package datafeedkey

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// KeyPrefix starts every raw data-feed key.
const KeyPrefix = "sdk_"

// bodyLength is the number of alphabet characters after the tag.
const bodyLength = 128

// alphabet is base58: digits and letters minus 0, O, I and l.
const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var rawKeyPattern = regexp.MustCompile(`^sdk_([0-9]{3})_[1-9A-HJ-NP-Za-km-z]{128}$`)

// Algorithm is the three-digit tag naming a hash algorithm. The tag is
// embedded in every raw key so the verifier picks the right hasher
// without trying each one.
type Algorithm string

const (
	Argon2ID Algorithm = "000"
	BCrypt   Algorithm = "001"
)

// String returns the algorithm's name.
func (algorithm Algorithm) String() string {
	switch algorithm {
	case Argon2ID:
		return "argon2id"
	case BCrypt:
		return "bcrypt"
	default:
		return fmt.Sprintf("unknown(%s)", string(algorithm))
	}
}

// ParseAlgorithm accepts a tag ("000") or a name ("argon2id").
func ParseAlgorithm(value string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(Argon2ID), "argon2id", "argon2":
		return Argon2ID, nil
	case string(BCrypt), "bcrypt":
		return BCrypt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, value)
	}
}

// LooksLikeKey is a cheap prefix test used to route an Authorization
// value to the data-feed key authenticator instead of the token
// verifier. It does not validate the key.
func LooksLikeKey(value string) bool {
	return strings.HasPrefix(value, KeyPrefix)
}

// ParseRawKey checks the surface syntax of a raw key and returns its
// algorithm tag. It performs no hashing.
func ParseRawKey(rawKey string) (Algorithm, error) {
	match := rawKeyPattern.FindStringSubmatch(rawKey)
	if match == nil {
		return "", ErrMalformedKey
	}
	return Algorithm(match[1]), nil
}

// GenerateRawKey returns a new random raw key tagged with algorithm.
func GenerateRawKey(algorithm Algorithm) (string, error) {
	var builder strings.Builder
	builder.Grow(len(KeyPrefix) + 4 + bodyLength)
	builder.WriteString(KeyPrefix)
	builder.WriteString(string(algorithm))
	builder.WriteByte('_')

	limit := big.NewInt(int64(len(alphabet)))
	for i := 0; i < bodyLength; i++ {
		index, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("datafeedkey: generating key: %w", err)
		}
		builder.WriteByte(alphabet[index.Int64()])
	}
	return builder.String(), nil
}

// HashedKey is one entry of a key-definition file.
type HashedKey struct {
	// Hash is the encoded output of HashAlgorithm over the raw key.
	Hash string `json:"hash"`

	// Salt is the base64 salt for algorithms that take one
	// separately. Empty for BCrypt, which embeds its salt in Hash.
	Salt string `json:"salt,omitempty"`

	HashAlgorithm Algorithm `json:"hashAlgorithmId"`

	// SubjectID identifies the sender, typically an account id.
	SubjectID string `json:"subjectId"`

	// SubjectType names the attribute SubjectID corresponds to, e.g.
	// "AccountId". Informational.
	SubjectType string `json:"subjectType,omitempty"`

	DisplayName string `json:"displayName,omitempty"`

	// StreamMetaData is merged over the request attributes when the
	// key authenticates, so a key can pin AccountId and friends.
	StreamMetaData map[string]string `json:"streamMetaData,omitempty"`

	// ExpiryDateEpochMs is the hard cutoff. A key is expired once the
	// current time is strictly after it.
	ExpiryDateEpochMs int64 `json:"expiryDateEpochMs"`

	// FeedNamePattern, when set, restricts the feeds this key may
	// send to. Anchored regular expression.
	FeedNamePattern string `json:"feedNamePattern,omitempty"`
}

// Expiry returns the expiry as a time.
func (key *HashedKey) Expiry() time.Time {
	return time.UnixMilli(key.ExpiryDateEpochMs)
}

// ExpiredAt reports whether the key is expired at now.
func (key *HashedKey) ExpiredAt(now time.Time) bool {
	return now.UnixMilli() > key.ExpiryDateEpochMs
}

// Validate checks the fields the store indexes on and compiles the
// feed pattern.
func (key *HashedKey) Validate() error {
	if key.Hash == "" {
		return fmt.Errorf("datafeedkey: key for subject %q has no hash", key.SubjectID)
	}
	if key.SubjectID == "" {
		return fmt.Errorf("datafeedkey: key has no subjectId")
	}
	if key.ExpiryDateEpochMs <= 0 {
		return fmt.Errorf("datafeedkey: key for subject %q has no expiryDateEpochMs", key.SubjectID)
	}
	if _, err := ParseAlgorithm(string(key.HashAlgorithm)); err != nil {
		return err
	}
	if _, err := compileFeedPattern(key.FeedNamePattern); err != nil {
		return fmt.Errorf("datafeedkey: key for subject %q: invalid feedNamePattern: %w", key.SubjectID, err)
	}
	return nil
}

// compileFeedPattern anchors pattern at both ends. An empty pattern
// compiles to nil.
func compileFeedPattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile("^(?:" + pattern + ")$")
}
