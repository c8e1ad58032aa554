// Package crypto implements the primitives of the chat E2EE scheme: X25519
// key agreement, HKDF key expansion and AES-256-GCM payload encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of every key handled here: X25519 scalars and
	// points as well as the derived AES-256 key.
	KeySize = 32
	// NonceSize is the GCM standard nonce size.
	NonceSize = 12

	// Domain separation for HKDF. Both ends must use identical values or
	// derived conversation keys will not match.
	hkdfSalt = "e2ee-chat-salt"
	hkdfInfo = "e2ee-chat-key"
)

var (
	ErrInvalidKeySize = errors.New("invalid key size")
	// ErrDecrypt covers tag mismatch and malformed payloads alike.
	ErrDecrypt = errors.New("decryption failed")
)

// KeyPair is an X25519 key-agreement pair. The private key must never leave
// the local device.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateKeyPair returns a fresh X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	priv := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to compute public key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// SharedSecret computes the X25519 shared secret ourPriv * theirPub.
// By ECDH symmetry, SharedSecret(a.Private, b.Public) equals
// SharedSecret(b.Private, a.Public).
func SharedSecret(ourPriv, theirPub []byte) ([]byte, error) {
	if len(ourPriv) != KeySize || len(theirPub) != KeySize {
		return nil, ErrInvalidKeySize
	}
	// curve25519.X25519 rejects the all-zero (low order) output.
	secret, err := curve25519.X25519(ourPriv, theirPub)
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return secret, nil
}

// DeriveEncryptionKey expands a raw ECDH secret into a 256-bit AES key with
// HKDF-SHA-256 under the fixed salt/info pair.
func DeriveEncryptionKey(secret []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	h := hkdf.New(sha256.New, secret, []byte(hkdfSalt), []byte(hkdfInfo))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// ConversationKey derives the symmetric key shared by the two owners of the
// given private/public keys.
func ConversationKey(ourPriv, theirPub []byte) ([]byte, error) {
	secret, err := SharedSecret(ourPriv, theirPub)
	if err != nil {
		return nil, err
	}
	return DeriveEncryptionKey(secret)
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce and
// returns base64(nonce‖ciphertext). A nonce is never reused for a key because
// each call draws 12 fresh random bytes.
func Encrypt(key, plaintext []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand.Read nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed input or authentication failure
// reports ErrDecrypt.
func Decrypt(key []byte, payload string) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64: %v", ErrDecrypt, err)
	}
	if len(raw) < NonceSize {
		return nil, fmt.Errorf("%w: payload too short", ErrDecrypt)
	}
	nonce, ct := raw[:NonceSize], raw[NonceSize:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// EncodeKey returns the standard base64 encoding used for keys on the wire
// and on disk.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey decodes a base64 key and enforces the 32-byte size.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), KeySize)
	}
	return key, nil
}

// Fingerprint returns a short hex fingerprint of a public key, suitable for
// out-of-band comparison. SHA-256 truncated to 10 bytes.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:10])
}
