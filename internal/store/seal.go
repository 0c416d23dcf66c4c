// ABOUTME: Optional at-rest sealing of stored option values with NaCl secretbox
// ABOUTME: The box key is derived from an operator passphrase with HKDF-SHA256

package store

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// sealedPrefix marks values written by a Sealer. Values without it are
// returned verbatim so a database can be migrated to sealing in place.
var sealedPrefix = []byte("mrwp:sb1:")

const nonceSize = 24

// ErrUnseal is returned when a sealed value cannot be opened with the configured key.
var ErrUnseal = errors.New("cannot unseal stored value (wrong encryption key?)")

// Sealer encrypts and authenticates values before they reach the database.
type Sealer struct {
	key [32]byte
}

// NewSealer derives a box key from passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key is empty")
	}
	s := &Sealer{}
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("mrwp-agent store v1"))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, fmt.Errorf("deriving store key: %w", err)
	}
	return s, nil
}

// Seal returns prefix || nonce || box.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	out := make([]byte, 0, len(sealedPrefix)+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, sealedPrefix...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, &s.key), nil
}

// Open reverses Seal. Unsealed legacy values pass through unchanged.
func (s *Sealer) Open(stored []byte) ([]byte, error) {
	if !bytes.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	rest := stored[len(sealedPrefix):]
	if len(rest) < nonceSize+secretbox.Overhead {
		return nil, ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], rest[:nonceSize])
	plain, ok := secretbox.Open(nil, rest[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnseal
	}
	return plain, nil
}
