package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"pkt.systems/pslog"

	"pkt.systems/peerdoc/internal/signaling"
)

const (
	defaultSendQueue = 64
	wsWriteTimeout   = 10 * time.Second
	maxCloseReason   = 120
)

// wsConn adapts a websocket to signaling.Conn. Sends are queued and
// written by a single writer goroutine so callers never block on a slow
// peer.
type wsConn struct {
	id     string
	conn   *websocket.Conn
	logger pslog.Logger
	queue  chan []byte

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.Mutex
	reason    string
}

func newWSConn(id string, conn *websocket.Conn, logger pslog.Logger, queueSize int) *wsConn {
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	if queueSize <= 0 {
		queueSize = defaultSendQueue
	}
	return &wsConn{
		id:     id,
		conn:   conn,
		logger: logger,
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send implements signaling.Conn.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return signaling.ErrConnClosed
	default:
	}
	select {
	case c.queue <- data:
		return nil
	case <-c.done:
		return signaling.ErrConnClosed
	default:
		return signaling.ErrQueueFull
	}
}

// Close implements signaling.Conn. The websocket itself is closed by the
// writer goroutine.
func (c *wsConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *wsConn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsConn) writeLoop(ctx context.Context) {
	defer func() {
		_ = c.Close("closing")
		_ = c.conn.Close(websocket.StatusNormalClosure, c.closeReason())
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.queue:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write failed", "err", err)
				_ = c.Close("write failed")
				return
			}
		}
	}
}

func readMessage(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
