// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts and decrypts data-feed key files with age.
//
// Operators may keep key-definition files sealed at rest: the key
// generator writes "<name>.json.age" encrypted to the receipt server's
// age recipient, and the server opens it with its identity file.
// Sealed output is ASCII-armored so it survives copy/paste and config
// management tools; Open accepts both armored and binary input.
//
// Identities and plaintext live in secret.Buffer values.
package sealed

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/intake/lib/secret"
)

// ErrNoRecipients is returned by Seal when no recipient is given.
var ErrNoRecipients = errors.New("sealed: at least one recipient is required")

// GenerateIdentity creates an X25519 identity. Returns the identity in
// AGE-SECRET-KEY-1 form inside a secret.Buffer, and the matching
// public recipient string.
func GenerateIdentity() (*secret.Buffer, string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, "", fmt.Errorf("sealed: generating identity: %w", err)
	}
	buffer, err := secret.FromBytes([]byte(identity.String()))
	if err != nil {
		return nil, "", err
	}
	return buffer, identity.Recipient().String(), nil
}

// Seal encrypts plaintext to every recipient (age1... strings) and
// returns armored ciphertext.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, ErrNoRecipients
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("sealed: parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var output bytes.Buffer
	armored := armor.NewWriter(&output)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing armor: %w", err)
	}
	return output.Bytes(), nil
}

// Open decrypts ciphertext with the identities in identityFile, which
// holds one or more AGE-SECRET-KEY-1 lines (comments allowed, as
// written by age-keygen). The identity buffer is borrowed, not closed.
func Open(ciphertext []byte, identityFile *secret.Buffer) (*secret.Buffer, error) {
	identities, err := age.ParseIdentities(strings.NewReader(identityFile.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing identity: %w", err)
	}

	var source io.Reader = bytes.NewReader(ciphertext)
	buffered := bufio.NewReader(source)
	if peek, _ := buffered.Peek(len(armor.Header)); string(peek) == armor.Header {
		source = armor.NewReader(buffered)
	} else {
		source = buffered
	}

	reader, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed: %w", secret.ErrEmpty)
	}
	return secret.FromBytes(plaintext)
}

// ValidateRecipient reports whether key parses as an age recipient.
func ValidateRecipient(key string) error {
	if _, err := age.ParseX25519Recipient(strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("sealed: invalid recipient: %w", err)
	}
	return nil
}
