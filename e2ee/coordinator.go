// Package e2ee orchestrates end-to-end encryption for chat: it resolves peer
// public keys, derives and caches conversation keys, and encrypts/decrypts
// message bodies. Private key material never leaves the process.
package e2ee

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/looplabs/chatcore/crypto"
	"github.com/looplabs/chatcore/directory"
	"github.com/looplabs/chatcore/keystore"
	"github.com/looplabs/chatcore/types"
)

// KeyDirectory is the slice of the platform API the coordinator needs.
// *directory.Client satisfies it.
type KeyDirectory interface {
	UploadPublicKey(ctx context.Context, publicKeyBase64 string) error
	FetchPublicKey(ctx context.Context, identity string) (string, error)
	FetchMyPublicKey(ctx context.Context) (string, bool, error)
}

// Coordinator sits between the UI-facing send/receive calls and the realtime
// channel. All failure paths degrade to plaintext or a placeholder; nothing
// here is allowed to take the client down.
type Coordinator struct {
	dir    KeyDirectory
	logger *zap.Logger

	mu       sync.Mutex
	keys     crypto.KeyPair
	disabled bool

	// Both caches are append-only for the session: a peer's key cannot
	// change without a fresh session.
	peerKeys map[string][]byte // identity -> public key
	convKeys map[string][]byte // base64 public key -> conversation key
}

func NewCoordinator(dir KeyDirectory, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		dir:      dir,
		logger:   logger,
		disabled: true, // until Init succeeds
		peerKeys: make(map[string][]byte),
		convKeys: make(map[string][]byte),
	}
}

// Init loads (or generates) the device key pair and publishes the public key
// when the directory does not already hold it. If key material cannot be
// obtained the coordinator stays disabled for the session and every operation
// takes the plaintext path; Init itself never fails the caller.
func (c *Coordinator) Init(ctx context.Context, store *keystore.Store) {
	res, err := store.EnsureKeyPair()
	if err != nil {
		c.logger.Warn("encryption unavailable for this session", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.keys = res.KeyPair
	c.disabled = false
	c.mu.Unlock()

	published, ok, err := c.dir.FetchMyPublicKey(ctx)
	if err != nil {
		c.logger.Warn("could not check published key", zap.Error(err))
		return
	}
	if ok && published == res.PublicKeyBase64 {
		return
	}
	if err := c.dir.UploadPublicKey(ctx, res.PublicKeyBase64); err != nil {
		// Peers cannot encrypt to us until a later upload succeeds, but
		// sending and local decryption still work.
		c.logger.Warn("failed to publish public key", zap.Error(err))
		return
	}
	c.logger.Info("published public key",
		zap.String("fingerprint", crypto.Fingerprint(res.KeyPair.Public)))
}

// Enabled reports whether encryption is available this session.
func (c *Coordinator) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disabled
}

// PublicKeyBase64 exports our public key, or "" when disabled.
func (c *Coordinator) PublicKeyBase64() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return ""
	}
	return crypto.EncodeKey(c.keys.Public)
}

// EncryptForRecipient encrypts plaintext for the peer. ok=false means "send
// as plaintext": the peer has no published key, encryption is disabled, or
// derivation failed. This is the deliberate degrade path, not an error.
func (c *Coordinator) EncryptForRecipient(ctx context.Context, peer, plaintext string) (string, bool) {
	key, err := c.conversationKey(ctx, peer)
	if err != nil {
		c.logNoEncryption("encrypt", peer, err)
		return "", false
	}
	payload, err := crypto.Encrypt(key, []byte(plaintext))
	if err != nil {
		c.logger.Warn("encryption failed, sending plaintext",
			zap.String("peer", peer), zap.Error(err))
		return "", false
	}
	return payload, true
}

// DecryptFromSender is the mirror of EncryptForRecipient; ok=false on any
// failure (missing key, tag mismatch, malformed payload).
func (c *Coordinator) DecryptFromSender(ctx context.Context, peer, payload string) (string, bool) {
	key, err := c.conversationKey(ctx, peer)
	if err != nil {
		c.logNoEncryption("decrypt", peer, err)
		return "", false
	}
	plain, err := crypto.Decrypt(key, payload)
	if err != nil {
		c.logger.Warn("decryption failed",
			zap.String("peer", peer), zap.Error(err))
		return "", false
	}
	return string(plain), true
}

// ProcessForDisplay resolves a message body to something renderable.
// Decryption failure surfaces as a placeholder, never as an error.
func (c *Coordinator) ProcessForDisplay(ctx context.Context, msg types.Message, peer string) DisplayResult {
	if msg.IsUnsent {
		return DisplayResult{Kind: KindUnsent}
	}
	if !msg.IsEncrypted {
		return DisplayResult{Kind: KindNotEncrypted, text: msg.Content}
	}
	plain, ok := c.DecryptFromSender(ctx, peer, msg.Content)
	if !ok {
		return DisplayResult{Kind: KindDecryptionFailed}
	}
	return DisplayResult{Kind: KindDecrypted, text: plain}
}

// conversationKey returns the cached symmetric key for the peer, deriving it
// on first use. By ECDH symmetry the peer derives the identical key from its
// own private key and our public key.
func (c *Coordinator) conversationKey(ctx context.Context, peer string) ([]byte, error) {
	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return nil, errEncryptionDisabled
	}
	peerKey, havePeer := c.peerKeys[peer]
	c.mu.Unlock()

	if !havePeer {
		encoded, err := c.dir.FetchPublicKey(ctx, peer)
		if err != nil {
			return nil, err
		}
		peerKey, err = crypto.DecodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("peer %s published a malformed key: %w", peer, err)
		}
		c.mu.Lock()
		c.peerKeys[peer] = peerKey
		c.mu.Unlock()
	}

	cacheKey := crypto.EncodeKey(peerKey)

	c.mu.Lock()
	if key, ok := c.convKeys[cacheKey]; ok {
		c.mu.Unlock()
		return key, nil
	}
	priv := c.keys.Private
	c.mu.Unlock()

	key, err := crypto.ConversationKey(priv, peerKey)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.convKeys[cacheKey] = key
	c.mu.Unlock()
	return key, nil
}

var errEncryptionDisabled = errors.New("encryption disabled for this session")

func (c *Coordinator) logNoEncryption(op, peer string, err error) {
	if errors.Is(err, directory.ErrNoPublishedKey) || errors.Is(err, errEncryptionDisabled) {
		c.logger.Debug("falling back to plaintext",
			zap.String("op", op), zap.String("peer", peer), zap.Error(err))
		return
	}
	c.logger.Warn("conversation key unavailable",
		zap.String("op", op), zap.String("peer", peer), zap.Error(err))
}
