package chat

import (
	"time"

	"go.uber.org/zap"

	"github.com/looplabs/chatcore/types"
)

// readLoop drains inbound frames until the connection dies. Frames are
// processed in arrival order on this single goroutine; malformed frames are
// logged and dropped without touching the connection.
func (c *Channel) readLoop(conn connReader, stop chan struct{}) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				// Teardown already in progress.
			default:
				c.logger.Warn("read failed", zap.Error(err))
				c.handleConnectionLoss(err)
			}
			return
		}

		frame, err := types.ParseFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

// connReader is the slice of *websocket.Conn the read loop needs; tests stub
// it.
type connReader interface {
	ReadMessage() (int, []byte, error)
}

// dispatch routes one inbound frame: channel-level bookkeeping here, then
// every subscribed handler in registration order.
func (c *Channel) dispatch(frame *types.Frame) {
	switch frame.Type {
	case types.EventConnectionEstablished:
		c.logger.Debug("connection acknowledged")
	case types.EventPong:
		c.logger.Debug("keepalive acknowledged")
	case types.EventError:
		// Server-reported errors do not force a reconnect; connection
		// close drives that.
		c.logger.Warn("server error frame", zap.String("error", frame.Error))
	}

	c.handlersLock.RLock()
	handlers := make([]types.EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.handlersLock.RUnlock()

	for _, h := range handlers {
		if err := h.HandleEvent(frame); err != nil {
			c.logger.Error("event handler failed",
				zap.String("type", frame.Type), zap.Error(err))
		}
	}
}

// keepaliveLoop pings the server on the application level every 30 seconds
// while the connection lives.
func (c *Channel) keepaliveLoop(stop chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeFrame("ping", types.NewPingFrame()); err != nil {
				return
			}
			c.logger.Debug("keepalive sent")
		}
	}
}

// handleConnectionLoss tears down the dead connection and schedules a
// reconnect. Safe to call from both loops; only the first caller per
// connection acts.
func (c *Channel) handleConnectionLoss(err error) {
	if !c.compareAndSwapStatus(types.StatusConnected, types.StatusError) {
		return
	}

	c.connLock.Lock()
	conn := c.conn
	stop := c.connStop
	c.conn = nil
	c.connStop = nil
	c.connLock.Unlock()

	if conn != nil {
		conn.Close()
	}
	if stop != nil {
		close(stop)
	}

	c.logger.Warn("connection lost", zap.Error(err))
	c.scheduleReconnect()
}

// scheduleReconnect arms the fixed-delay reconnect timer, provided the
// channel has not been torn down and a session is still active.
func (c *Channel) scheduleReconnect() {
	if c.closed.Load() {
		return
	}
	if !c.session.Active() {
		c.logger.Info("no active session, staying disconnected")
		return
	}

	c.timerLock.Lock()
	defer c.timerLock.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(reconnectDelay, func() {
		if c.closed.Load() {
			return
		}
		c.logger.Info("attempting reconnect")
		if err := c.Connect(); err != nil {
			c.logger.Warn("reconnect failed", zap.Error(err))
		}
	})
	c.logger.Info("reconnect scheduled", zap.Duration("delay", reconnectDelay))
}
