package keystore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/looplabs/chatcore/crypto"
)

func TestEnsureKeyPairGeneratesOnce(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, nil)

	first, err := store.EnsureKeyPair()
	if err != nil {
		t.Fatalf("EnsureKeyPair failed: %v", err)
	}
	if !first.Generated {
		t.Error("First call should generate a key pair")
	}
	if first.PublicKeyBase64 != crypto.EncodeKey(first.KeyPair.Public) {
		t.Error("Exported public key should match the pair")
	}

	second, err := store.EnsureKeyPair()
	if err != nil {
		t.Fatalf("EnsureKeyPair failed: %v", err)
	}
	if second.Generated {
		t.Error("Second call should load the persisted pair")
	}
	if !bytes.Equal(first.KeyPair.Private, second.KeyPair.Private) {
		t.Error("Persisted private key should survive reload")
	}
	if !bytes.Equal(first.KeyPair.Public, second.KeyPair.Public) {
		t.Error("Persisted public key should survive reload")
	}
}

func TestEnsureKeyPairSurvivesNewStore(t *testing.T) {
	dir := t.TempDir()

	first, err := New(dir, nil).EnsureKeyPair()
	if err != nil {
		t.Fatalf("EnsureKeyPair failed: %v", err)
	}

	// A fresh Store over the same directory models a process restart.
	second, err := New(dir, nil).EnsureKeyPair()
	if err != nil {
		t.Fatalf("EnsureKeyPair failed: %v", err)
	}
	if second.Generated {
		t.Error("Restart should load, not regenerate")
	}
	if !bytes.Equal(first.KeyPair.Private, second.KeyPair.Private) {
		t.Error("Key pair should be stable across restarts")
	}
}

func TestEnsureKeyPairRegeneratesOnCorruption(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"not json", []byte("garbage{{{")},
		{"bad base64", []byte(`{"private_key":"!!!","public_key":"!!!","created_at":"2024-01-01T00:00:00Z"}`)},
		{"wrong key size", []byte(`{"private_key":"AAAA","public_key":"AAAA","created_at":"2024-01-01T00:00:00Z"}`)},
		{"empty file", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, keyPairFile), tt.content, 0o600); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			res, err := New(dir, nil).EnsureKeyPair()
			if err != nil {
				t.Fatalf("EnsureKeyPair should regenerate, got error: %v", err)
			}
			if !res.Generated {
				t.Error("Corrupt record should trigger regeneration")
			}
			if len(res.KeyPair.Private) != crypto.KeySize {
				t.Errorf("Expected %d-byte private key, got %d", crypto.KeySize, len(res.KeyPair.Private))
			}
		})
	}
}

func TestKeyPairFilePermissions(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, nil).EnsureKeyPair(); err != nil {
		t.Fatalf("EnsureKeyPair failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, keyPairFile))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected 0600 permissions, got %o", perm)
	}
}
