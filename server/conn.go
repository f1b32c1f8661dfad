package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/OkGoDoIt/AugmentOS/wire"
)

// Outbound queue bounds. A control message that cannot be queued tears
// the connection down; data and audio frames are dropped instead.
const (
	sendQueueSize = 256
	writeTimeout  = 10 * time.Second
)

var errConnClosed = errors.New("connection closed")

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

// wsConn adapts a WebSocket to the session.Conn contract: sends only
// enqueue, a single writer goroutine drains. Close flushes frames that
// were queued before it, so a farewell message sent right before Close
// still reaches the peer.
type wsConn struct {
	conn *websocket.Conn

	queue chan outbound
	done  chan struct{}
	once  sync.Once

	mu     sync.Mutex
	reason string
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn:  conn,
		queue: make(chan outbound, sendQueueSize),
		done:  make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// writeLoop is the only writer. It owns the final socket close so the
// close frame always trails the last flushed message.
func (c *wsConn) writeLoop() {
	defer c.conn.Close(websocket.StatusNormalClosure, c.closeReason())
	for {
		select {
		case out := <-c.queue:
			if err := c.write(out); err != nil {
				c.Close("write failed")
				return
			}
		case <-c.done:
			for {
				select {
				case out := <-c.queue:
					if c.write(out) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *wsConn) write(out outbound) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, out.typ, out.data)
}

// Send enqueues a control message. Overflow closes the connection so the
// failure surfaces as a disconnect instead of a silent drop.
func (c *wsConn) Send(m wire.Message) error {
	data, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.queue <- outbound{websocket.MessageText, data}:
		return nil
	default:
		c.Close("outbound queue overflow")
		return errors.New("outbound queue overflow")
	}
}

// SendData enqueues a droppable data message.
func (c *wsConn) SendData(m wire.Message) {
	data, err := wire.Marshal(m)
	if err != nil {
		slog.Warn("marshal outbound message", "error", err)
		return
	}
	c.sendDroppable(outbound{websocket.MessageText, data})
}

// SendBinary enqueues a droppable binary frame.
func (c *wsConn) SendBinary(p []byte) {
	c.sendDroppable(outbound{websocket.MessageBinary, p})
}

func (c *wsConn) sendDroppable(out outbound) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.queue <- out:
	default:
	}
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close stops the connection. reason lands in the close frame, truncated
// to fit a control frame.
func (c *wsConn) Close(reason string) {
	c.once.Do(func() {
		if len(reason) > 100 {
			reason = reason[:100]
		}
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *wsConn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *wsConn) Done() <-chan struct{} { return c.done }
