// Package chat is the realtime encrypted chat core: a persistent websocket
// channel carrying typed chat events, an E2EE layer over message bodies, and
// the reconciliation glue between push delivery and polling.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/looplabs/chatcore/directory"
	"github.com/looplabs/chatcore/types"
)

const (
	writeWait         = 10 * time.Second
	maxMessageSize    = 1024 * 1024
	keepaliveInterval = 30 * time.Second
	// reconnectDelay is deliberately fixed, with no backoff, jitter or
	// retry cap, matching the platform's other clients. TODO: revisit if
	// mass reconnects ever show up as a server-side herd.
	reconnectDelay = 5 * time.Second

	channelPath = "/ws/chat/"
)

// ErrNotConnected reports a send attempted while the channel is down.
// Callers are expected to fall back to the request/response send path.
var ErrNotConnected = errors.New("channel not connected")

// ChannelConfig configures the realtime channel.
type ChannelConfig struct {
	// ServerURL is the http(s) API origin; the websocket scheme is derived
	// from it (http→ws, https→wss).
	ServerURL string
	Session   *directory.Session
	Logger    *zap.Logger
	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Channel owns the live push connection: connect, authenticate, keepalive,
// reconnect-with-delay, teardown, and dispatch of inbound frames to
// subscribed handlers.
type Channel struct {
	serverURL string
	session   *directory.Session
	logger    *zap.Logger
	dialer    *websocket.Dialer

	state atomic.Int32

	conn     *websocket.Conn
	connStop chan struct{}
	connLock sync.RWMutex
	writeMu  sync.Mutex

	handlers     []types.EventHandler
	handlersLock sync.RWMutex

	reconnectTimer *time.Timer
	timerLock      sync.Mutex

	closed atomic.Bool
	wg     sync.WaitGroup

	onStatusChange func(types.ChannelStatus)
}

func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	c := &Channel{
		serverURL: cfg.ServerURL,
		session:   cfg.Session,
		logger:    cfg.Logger,
		dialer:    cfg.Dialer,
	}
	c.state.Store(int32(types.StatusDisconnected))
	return c, nil
}

// AddHandler subscribes a handler to every inbound frame, in registration
// order.
func (c *Channel) AddHandler(h types.EventHandler) {
	c.handlersLock.Lock()
	defer c.handlersLock.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Channel) AddHandlerFunc(fn func(*types.Frame) error) {
	c.AddHandler(types.EventHandlerFunc(fn))
}

// OnStatusChange installs a callback fired on every status transition.
func (c *Channel) OnStatusChange(fn func(types.ChannelStatus)) {
	c.onStatusChange = fn
}

// Status returns the current channel status, the single source of truth for
// push availability.
func (c *Channel) Status() types.ChannelStatus {
	return types.ChannelStatus(c.state.Load())
}

// Connect dials the chat endpoint and starts the read and keepalive loops.
// Calling it while already connected or connecting is a no-op. Failures
// schedule a reconnect as long as the session stays active.
func (c *Channel) Connect() error {
	if c.closed.Load() {
		return errors.New("channel is closed")
	}
	if !c.compareAndSwapStatus(types.StatusDisconnected, types.StatusConnecting) &&
		!c.compareAndSwapStatus(types.StatusError, types.StatusConnecting) {
		c.logger.Debug("connect ignored", zap.Stringer("status", c.Status()))
		return nil
	}

	token, err := c.session.Token(context.Background())
	if err != nil {
		c.setStatus(types.StatusError)
		c.scheduleReconnect()
		return fmt.Errorf("failed to get auth token: %w", err)
	}

	wsURL, err := c.endpoint(token)
	if err != nil {
		c.setStatus(types.StatusError)
		return err
	}

	conn, _, err := c.dialer.Dial(wsURL, nil)
	if err != nil {
		c.setStatus(types.StatusError)
		c.scheduleReconnect()
		return fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	stop := make(chan struct{})
	c.connLock.Lock()
	c.conn = conn
	c.connStop = stop
	c.connLock.Unlock()

	c.setStatus(types.StatusConnected)
	c.logger.Info("channel connected")

	c.wg.Add(2)
	go c.readLoop(conn, stop)
	go c.keepaliveLoop(stop)

	return nil
}

// Disconnect is the terminal teardown (logout): it cancels any pending
// reconnect and the channel never auto-reconnects afterwards.
func (c *Channel) Disconnect() {
	c.closed.Store(true)

	c.timerLock.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.timerLock.Unlock()

	c.connLock.Lock()
	conn := c.conn
	stop := c.connStop
	c.conn = nil
	c.connStop = nil
	c.connLock.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		conn.Close()
	}
	if stop != nil {
		close(stop)
	}

	c.setStatus(types.StatusDisconnected)
	c.wg.Wait()
	c.logger.Info("channel closed")
}

// Send pushes a chat message over the live connection.
func (c *Channel) Send(conversationID, content string) error {
	return c.writeFrame("chat_message", types.NewChatMessageFrame(conversationID, content))
}

// SendTyping signals the typing indicator for a conversation.
func (c *Channel) SendTyping(conversationID string, isTyping bool) error {
	return c.writeFrame("typing", types.NewTypingFrame(conversationID, isTyping))
}

// MarkRead reports the conversation as read up to now.
func (c *Channel) MarkRead(conversationID string) error {
	return c.writeFrame("mark_read", types.NewMarkReadFrame(conversationID))
}

// writeFrame sends any outbound frame while connected. When the channel is
// down it warns and reports ErrNotConnected instead of failing hard; the
// caller decides whether to fall back.
func (c *Channel) writeFrame(kind string, frame any) error {
	if c.Status() != types.StatusConnected {
		c.logger.Warn("dropping outbound frame, channel not connected",
			zap.String("frame", kind),
			zap.Stringer("status", c.Status()))
		return ErrNotConnected
	}

	c.connLock.RLock()
	conn := c.conn
	c.connLock.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		c.logger.Error("write failed", zap.String("frame", kind), zap.Error(err))
		c.handleConnectionLoss(err)
		return err
	}
	return nil
}

func (c *Channel) endpoint(token string) (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = channelPath
	u.RawQuery = url.Values{"token": []string{token}}.Encode()
	return u.String(), nil
}

func (c *Channel) setStatus(status types.ChannelStatus) {
	c.state.Store(int32(status))
	c.logger.Debug("status changed", zap.Stringer("status", status))
	if c.onStatusChange != nil {
		go c.onStatusChange(status)
	}
}

func (c *Channel) compareAndSwapStatus(old, newStatus types.ChannelStatus) bool {
	swapped := c.state.CompareAndSwap(int32(old), int32(newStatus))
	if swapped {
		c.logger.Debug("status changed", zap.Stringer("status", newStatus))
		if c.onStatusChange != nil {
			go c.onStatusChange(newStatus)
		}
	}
	return swapped
}
