// Package cryptor seals and opens the history segments and snapshots
// exchanged with a sync server. The server only ever sees ciphertext: every segment
// is authenticated-encrypted client-side using a key derived from a
// secret the server never learns.
package cryptor

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/taskchampion/tc/pkg/types"
)

const (
	// envelopeVersion is the first byte of every sealed envelope. It
	// lets a future format change be detected before attempting to
	// decrypt.
	envelopeVersion byte = 0x01

	pbkdf2Iterations = 100_000
	keyLength        = chacha20poly1305.KeySize
)

// ErrDecryptionFailed covers every way opening an envelope can fail:
// wrong key, corrupted ciphertext, truncated envelope, or a mismatched
// AAD (wrong app id or version id). Collapsing these into one error
// avoids leaking which check failed to an attacker probing the server.
var ErrDecryptionFailed = errors.New("cryptor: decryption failed")

// Cryptor seals and opens envelopes for a single client. Its key is
// derived once, at construction, from the user's encryption secret and
// client id — never transmitted, never stored at rest.
type Cryptor struct {
	aead  cipher.AEAD
	appID byte
}

// appIDSyncHistory is the AAD app id of every envelope a Cryptor
// seals; history segments and snapshots share it and the same key.
const appIDSyncHistory byte = 0x01

// New derives a Cryptor's key from secret and clientID. The same
// (secret, clientID) pair always derives the same key, so every
// replica sharing those two values can decrypt each other's envelopes.
func New(secret []byte, clientID types.Uuid) (*Cryptor, error) {
	salt := sha256.Sum256(clientID[:])
	key := pbkdf2.Key(secret, salt[:], pbkdf2Iterations, keyLength, sha256.New)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptor: initializing cipher: %w", err)
	}

	return &Cryptor{aead: aead, appID: appIDSyncHistory}, nil
}

// aad builds the additional authenticated data binding an envelope to
// the specific (app, version) it was sealed for, so a ciphertext from
// one version id can't be replayed onto another.
func aad(appID byte, versionID types.Uuid) []byte {
	out := make([]byte, 1+16)
	out[0] = appID
	copy(out[1:], versionID[:])
	return out
}

// Seal encrypts plaintext for versionID, producing version ||
// nonce || ciphertext||tag.
func (c *Cryptor) Seal(versionID types.Uuid, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptor: generating nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, envelopeVersion)
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, plaintext, aad(c.appID, versionID))
	return out, nil
}

// Unseal reverses Seal. It fails with ErrDecryptionFailed for any
// malformed or tampered envelope, including one sealed for a different
// versionID.
func (c *Cryptor) Unseal(versionID types.Uuid, envelope []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(envelope) < 1+nonceSize {
		return nil, ErrDecryptionFailed
	}
	if envelope[0] != envelopeVersion {
		return nil, ErrDecryptionFailed
	}

	nonce := envelope[1 : 1+nonceSize]
	ciphertext := envelope[1+nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, aad(c.appID, versionID))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// deriveKeyOnly is exposed for tests that need to assert two Cryptors
// built from the same inputs agree on a key without exercising Seal.
func deriveKeyOnly(secret []byte, clientID types.Uuid) []byte {
	salt := sha256.Sum256(clientID[:])
	return pbkdf2.Key(secret, salt[:], pbkdf2Iterations, keyLength, sha256.New)
}
