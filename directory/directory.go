// Package directory talks to the platform's REST API: the public-key
// directory, the request/response send path used when push is unavailable,
// and the authoritative message/conversation fetches the reconciler polls.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/looplabs/chatcore/types"
)

const requestTimeout = 30 * time.Second

var (
	// ErrNoPublishedKey means the peer has never uploaded a public key;
	// callers fall back to plaintext rather than failing.
	ErrNoPublishedKey = errors.New("no published public key")
	// ErrNotFound is any other 404 from the API.
	ErrNotFound = errors.New("not found")
)

type Client struct {
	baseURL string
	session *Session
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, session *Session, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		session: session,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// BaseURL returns the configured API origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadPublicKey publishes our key so peers can derive conversation keys.
func (c *Client) UploadPublicKey(ctx context.Context, publicKeyBase64 string) error {
	body := map[string]string{"public_key": publicKeyBase64}
	return c.do(ctx, http.MethodPost, "/api/chat/keys/", body, nil)
}

// FetchPublicKey resolves a peer's published key. A 404 maps to
// ErrNoPublishedKey.
func (c *Client) FetchPublicKey(ctx context.Context, identity string) (string, error) {
	var rec types.PublicKeyRecord
	err := c.do(ctx, http.MethodGet, "/api/chat/keys/"+identity+"/", nil, &rec)
	if errors.Is(err, ErrNotFound) {
		return "", ErrNoPublishedKey
	}
	if err != nil {
		return "", err
	}
	if rec.PublicKey == "" {
		return "", ErrNoPublishedKey
	}
	return rec.PublicKey, nil
}

// FetchMyPublicKey returns our published key, or ok=false when none exists.
func (c *Client) FetchMyPublicKey(ctx context.Context) (string, bool, error) {
	var rec types.PublicKeyRecord
	err := c.do(ctx, http.MethodGet, "/api/chat/keys/me/", nil, &rec)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if rec.PublicKey == "" {
		return "", false, nil
	}
	return rec.PublicKey, true, nil
}

// SendMessage is the request/response send path, used whenever the realtime
// channel is not connected. Content may be ciphertext; encrypted reports
// which.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, encrypted bool) (types.Message, error) {
	body := map[string]any{
		"content":      content,
		"message_type": "text",
		"is_encrypted": encrypted,
	}
	var msg types.Message
	err := c.do(ctx, http.MethodPost, "/api/chat/conversations/"+conversationID+"/messages/", body, &msg)
	if err != nil {
		return types.Message{}, err
	}
	if msg.ID == "" {
		// Some deployments return 201 with an empty body; keep the
		// message addressable locally.
		msg.ID = uuid.NewString()
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	return msg, nil
}

// FetchMessages returns the authoritative message list for a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	var msgs []types.Message
	err := c.do(ctx, http.MethodGet, "/api/chat/conversations/"+conversationID+"/messages/", nil, &msgs)
	return msgs, err
}

// FetchConversations returns the conversation list.
func (c *Client) FetchConversations(ctx context.Context) ([]types.Conversation, error) {
	var convs []types.Conversation
	err := c.do(ctx, http.MethodGet, "/api/chat/conversations/", nil, &convs)
	return convs, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.session.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Warn("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
