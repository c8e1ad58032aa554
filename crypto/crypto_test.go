package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	if len(kp.Public) != KeySize {
		t.Errorf("Expected public key length %d, got %d", KeySize, len(kp.Public))
	}
	if len(kp.Private) != KeySize {
		t.Errorf("Expected private key length %d, got %d", KeySize, len(kp.Private))
	}
	if bytes.Equal(kp.Public, kp.Private) {
		t.Error("Public and private keys should be different")
	}

	kp2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if bytes.Equal(kp.Private, kp2.Private) {
		t.Error("Generated key pairs should be different")
	}
}

func TestSharedSecretSymmetry(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	ab, err := SharedSecret(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("SharedSecret(alice, bob) failed: %v", err)
	}
	ba, err := SharedSecret(bob.Private, alice.Public)
	if err != nil {
		t.Fatalf("SharedSecret(bob, alice) failed: %v", err)
	}

	if !bytes.Equal(ab, ba) {
		t.Error("ECDH shared secrets should be symmetric")
	}
	if len(ab) != KeySize {
		t.Errorf("Expected secret length %d, got %d", KeySize, len(ab))
	}
}

func TestSharedSecretInvalidSizes(t *testing.T) {
	kp, _ := GenerateKeyPair()

	if _, err := SharedSecret(kp.Private[:16], kp.Public); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("Expected ErrInvalidKeySize, got %v", err)
	}
	if _, err := SharedSecret(kp.Private, []byte{1, 2, 3}); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("Expected ErrInvalidKeySize, got %v", err)
	}
}

func TestConversationKeySymmetry(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	kab, err := ConversationKey(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("ConversationKey failed: %v", err)
	}
	kba, err := ConversationKey(bob.Private, alice.Public)
	if err != nil {
		t.Fatalf("ConversationKey failed: %v", err)
	}

	if !bytes.Equal(kab, kba) {
		t.Error("Derived conversation keys should match on both sides")
	}

	// Determinism: deriving twice yields the same key.
	again, _ := ConversationKey(alice.Private, bob.Public)
	if !bytes.Equal(kab, again) {
		t.Error("Key derivation should be deterministic")
	}

	// Different peer, different key.
	carol, _ := GenerateKeyPair()
	kac, _ := ConversationKey(alice.Private, carol.Public)
	if bytes.Equal(kab, kac) {
		t.Error("Keys for different peers should differ")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"short", "Hello"},
		{"medium", "a message of ordinary length for a chat"},
		{"unicode", "こんにちは 🌍 مرحبا"},
		{"special", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
	}

	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	key, err := ConversationKey(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("ConversationKey failed: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encrypt(key, []byte(tt.plaintext))
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			plain, err := Decrypt(key, payload)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if string(plain) != tt.plaintext {
				t.Errorf("Round trip mismatch: got %q, want %q", plain, tt.plaintext)
			}
		})
	}
}

func TestEncryptNonceFreshness(t *testing.T) {
	kp, _ := GenerateKeyPair()
	peer, _ := GenerateKeyPair()
	key, _ := ConversationKey(kp.Private, peer.Public)

	p1, err := Encrypt(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	p2, err := Encrypt(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if p1 == p2 {
		t.Error("Encrypting the same plaintext twice should yield different payloads")
	}
}

func TestDecryptErrors(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	key, _ := ConversationKey(alice.Private, bob.Public)
	payload, _ := Encrypt(key, []byte("secret"))

	wrong, _ := GenerateKeyPair()
	wrongKey, _ := ConversationKey(wrong.Private, bob.Public)

	corrupted := corruptLastChar(payload)

	raw, _ := base64.StdEncoding.DecodeString(payload)
	truncated := base64.StdEncoding.EncodeToString(raw[:NonceSize-1])

	tests := []struct {
		name    string
		key     []byte
		payload string
	}{
		{"wrong key", wrongKey, payload},
		{"corrupted payload", key, corrupted},
		{"not base64", key, "%%%not base64%%%"},
		{"too short", key, truncated},
		{"empty payload", key, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.key, tt.payload)
			if !errors.Is(err, ErrDecrypt) {
				t.Errorf("Expected ErrDecrypt, got %v", err)
			}
		})
	}
}

func TestDecryptInvalidKeySize(t *testing.T) {
	if _, err := Decrypt([]byte{1, 2, 3}, "anything"); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("Expected ErrInvalidKeySize, got %v", err)
	}
}

func TestEncodeDecodeKey(t *testing.T) {
	kp, _ := GenerateKeyPair()

	encoded := EncodeKey(kp.Public)
	decoded, err := DecodeKey(encoded)
	if err != nil {
		t.Fatalf("DecodeKey failed: %v", err)
	}
	if !bytes.Equal(decoded, kp.Public) {
		t.Error("Key round trip mismatch")
	}

	if _, err := DecodeKey("not-base64!!!"); err == nil {
		t.Error("Expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	if _, err := DecodeKey(short); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("Expected ErrInvalidKeySize, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	kp, _ := GenerateKeyPair()

	fp := Fingerprint(kp.Public)
	if len(fp) != 20 {
		t.Errorf("Expected 20 hex chars, got %d", len(fp))
	}
	if fp != Fingerprint(kp.Public) {
		t.Error("Fingerprint should be deterministic")
	}

	other, _ := GenerateKeyPair()
	if fp == Fingerprint(other.Public) {
		t.Error("Different keys should have different fingerprints")
	}
}

func corruptLastChar(payload string) string {
	replacement := "A"
	if strings.HasSuffix(payload, "A") {
		replacement = "B"
	}
	return payload[:len(payload)-1] + replacement
}
