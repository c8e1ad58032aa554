package chat

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/looplabs/chatcore/directory"
	"github.com/looplabs/chatcore/e2ee"
	"github.com/looplabs/chatcore/keystore"
	"github.com/looplabs/chatcore/reconcile"
	"github.com/looplabs/chatcore/types"
)

// Config configures a chat client session.
type Config struct {
	// ServerURL is the platform API origin, e.g. "https://api.example.com".
	ServerURL string
	// AuthToken comes from the platform's login flow.
	AuthToken string
	// ProfileDir is the per-device directory holding the key pair.
	ProfileDir string
	Logger     *zap.Logger
	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Client is the chat core facade the UI layer talks to. Plaintext goes in,
// ciphertext goes out over the channel (or plaintext when encryption is
// unavailable), and the reverse on receipt.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	session *directory.Session
	api     *directory.Client
	coord   *e2ee.Coordinator
	store   *reconcile.Store
	channel *Channel
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	if cfg.ProfileDir == "" {
		return nil, errors.New("profile directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	session := directory.NewSession(cfg.AuthToken)
	api := directory.NewClient(cfg.ServerURL, session, cfg.Logger)
	coord := e2ee.NewCoordinator(api, cfg.Logger)
	store := reconcile.New(cfg.Logger)

	channel, err := NewChannel(ChannelConfig{
		ServerURL: cfg.ServerURL,
		Session:   session,
		Logger:    cfg.Logger,
		Dialer:    cfg.Dialer,
	})
	if err != nil {
		return nil, err
	}
	channel.AddHandler(store)

	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		session: session,
		api:     api,
		coord:   coord,
		store:   store,
		channel: channel,
	}, nil
}

// Start initializes encryption (degrading to plaintext when unavailable) and
// brings up the realtime channel. A failed dial is not fatal: the channel
// keeps reconnecting and polling covers the gap.
func (c *Client) Start(ctx context.Context) error {
	c.coord.Init(ctx, keystore.New(c.cfg.ProfileDir, c.logger))
	if err := c.channel.Connect(); err != nil {
		c.logger.Warn("initial connect failed, relying on polling", zap.Error(err))
	}
	return nil
}

// Close is the logout teardown: no reconnects afterwards, all session state
// dropped.
func (c *Client) Close() {
	c.channel.Disconnect()
	c.store.Reset()
	c.session.Clear()
}

// SendMessage encrypts for the peer when possible and delivers over the
// channel, falling back to the request/response path when push is down. The
// returned message is provisional on the push path (the server echo carries
// the authoritative record).
func (c *Client) SendMessage(ctx context.Context, conversationID, peer, text string) (types.Message, error) {
	content, encrypted := c.coord.EncryptForRecipient(ctx, peer, text)
	if !encrypted {
		content = text
	}

	err := c.channel.Send(conversationID, content)
	if err == nil {
		return types.Message{
			ConversationID: conversationID,
			Content:        content,
			CreatedAt:      time.Now(),
			Type:           "text",
			IsEncrypted:    encrypted,
		}, nil
	}
	if !errors.Is(err, ErrNotConnected) {
		return types.Message{}, err
	}

	msg, err := c.api.SendMessage(ctx, conversationID, content, encrypted)
	if err != nil {
		return types.Message{}, err
	}
	c.store.Merge(msg)
	return msg, nil
}

// SendTyping forwards the typing indicator; silently skipped when push is
// down (there is no fallback for ephemeral signals).
func (c *Client) SendTyping(conversationID string, isTyping bool) {
	if err := c.channel.SendTyping(conversationID, isTyping); err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger.Warn("typing signal failed", zap.Error(err))
	}
}

// MarkRead reports the conversation read over the channel.
func (c *Client) MarkRead(conversationID string) error {
	return c.channel.MarkRead(conversationID)
}

// RefreshMessages pulls the authoritative list and reconciles it with pushed
// messages.
func (c *Client) RefreshMessages(ctx context.Context, conversationID string) error {
	msgs, err := c.api.FetchMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	c.store.Replace(conversationID, msgs)
	return nil
}

// RefreshConversations fetches the conversation list and clears its stale
// flag.
func (c *Client) RefreshConversations(ctx context.Context) ([]types.Conversation, error) {
	convs, err := c.api.FetchConversations(ctx)
	if err != nil {
		return nil, err
	}
	c.store.ConsumeConversationsStale()
	return convs, nil
}

// Display resolves a message body for rendering; never fails, worst case is
// a placeholder.
func (c *Client) Display(ctx context.Context, msg types.Message, peer string) e2ee.DisplayResult {
	return c.coord.ProcessForDisplay(ctx, msg, peer)
}

// Messages returns the reconciled messages for a conversation.
func (c *Client) Messages(conversationID string) []types.Message {
	return c.store.Messages(conversationID)
}

// Typing returns the live typing state for a conversation.
func (c *Client) Typing(conversationID string) reconcile.TypingState {
	return c.store.Typing(conversationID)
}

// Status exposes the channel status for push-vs-poll decisions.
func (c *Client) Status() types.ChannelStatus {
	return c.channel.Status()
}

// PollInterval suggests the polling cadence for the given surface.
func (c *Client) PollInterval(openConversation bool) time.Duration {
	return reconcile.PollInterval(c.Status(), openConversation)
}

// Encryption exposes the coordinator, e.g. for key fingerprint display.
func (c *Client) Encryption() *e2ee.Coordinator {
	return c.coord
}

// Store exposes the reconciled state, e.g. for change subscriptions.
func (c *Client) Store() *reconcile.Store {
	return c.store
}

// Channel exposes the realtime channel for status callbacks.
func (c *Client) Channel() *Channel {
	return c.channel
}
