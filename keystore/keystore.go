// Package keystore persists the device's key-agreement key pair. The record
// is scoped to one device profile directory and never replicated.
package keystore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/looplabs/chatcore/crypto"
)

const keyPairFile = "keypair.json"

// keyPairRecord is the on-disk shape. Opaque to everything outside this
// package; not part of any wire contract.
type keyPairRecord struct {
	PrivateKey string    `json:"private_key"`
	PublicKey  string    `json:"public_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a file-backed key-pair store rooted at one profile directory.
type Store struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// EnsureResult is the outcome of EnsureKeyPair.
type EnsureResult struct {
	KeyPair crypto.KeyPair
	// PublicKeyBase64 is the exported public key, ready for the directory.
	PublicKeyBase64 string
	// Generated reports whether a new pair was created on this call.
	Generated bool
}

func New(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}
}

// EnsureKeyPair loads the persisted key pair, generating and persisting a
// fresh one when no usable record exists. A corrupt or missing record is
// treated as "no key yet", not as a fatal error.
func (s *Store) EnsureKeyPair() (EnsureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kp, ok := s.load(); ok {
		return EnsureResult{
			KeyPair:         kp,
			PublicKeyBase64: crypto.EncodeKey(kp.Public),
		}, nil
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return EnsureResult{}, err
	}
	if err := s.save(kp); err != nil {
		return EnsureResult{}, err
	}
	s.logger.Info("generated device key pair",
		zap.String("fingerprint", crypto.Fingerprint(kp.Public)))

	return EnsureResult{
		KeyPair:         kp,
		PublicKeyBase64: crypto.EncodeKey(kp.Public),
		Generated:       true,
	}, nil
}

func (s *Store) load() (crypto.KeyPair, bool) {
	data, err := os.ReadFile(filepath.Join(s.dir, keyPairFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("unreadable key pair record, regenerating", zap.Error(err))
		}
		return crypto.KeyPair{}, false
	}

	var rec keyPairRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("corrupt key pair record, regenerating", zap.Error(err))
		return crypto.KeyPair{}, false
	}

	priv, err := crypto.DecodeKey(rec.PrivateKey)
	if err != nil {
		s.logger.Warn("corrupt private key, regenerating", zap.Error(err))
		return crypto.KeyPair{}, false
	}
	pub, err := crypto.DecodeKey(rec.PublicKey)
	if err != nil {
		s.logger.Warn("corrupt public key, regenerating", zap.Error(err))
		return crypto.KeyPair{}, false
	}

	return crypto.KeyPair{Public: pub, Private: priv}, true
}

func (s *Store) save(kp crypto.KeyPair) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	rec := keyPairRecord{
		PrivateKey: crypto.EncodeKey(kp.Private),
		PublicKey:  crypto.EncodeKey(kp.Public),
		CreatedAt:  time.Now().UTC(),
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, keyPairFile), b, 0o600)
}
