package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Time allowed to write a frame to the peer.
const writeWait = 10 * time.Second

// conn is one websocket connection. Only writePump writes data frames;
// everyone else goes through enqueue.
type conn struct {
	id string
	ws *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newConn(id string, ws *websocket.Conn, queue int) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

// enqueue never blocks. A full queue closes the connection: a peer that
// cannot keep up with signaling has no useful call left.
func (c *conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.close(websocket.ClosePolicyViolation, "send queue full")
		return false
	}
}

// close records the first close code and reason and wakes writePump, which
// flushes what is already queued and then sends the close frame.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// writePump is the connection's only data writer. It also sends keepalive
// pings; the read side extends its deadline whenever a pong arrives.
func (c *conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush()
			if c.closeCode != websocket.CloseAbnormalClosure {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(c.closeCode, c.closeReason),
					time.Now().Add(writeWait))
			}
			return
		}
	}
}

func (c *conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}
