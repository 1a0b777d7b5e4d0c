package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/polymeet/polymeet/internal/domain"
	"github.com/polymeet/polymeet/lib/logger/sl"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = 25 * time.Second

	// Maximum message size allowed from a client. SDP payloads stay well
	// under this.
	maxMessageSize = 64 * 1024

	sendBufferSize = 64
)

// EventHandler receives every decoded inbound event for a connection.
type EventHandler func(connID string, ev domain.Event)

// CloseHandler runs once when the connection's read loop terminates.
type CloseHandler func(connID string)

// Conn wraps one websocket connection. All writes go through the buffered
// send channel and the single write pump; all reads happen on the read
// pump.
type Conn struct {
	ID string

	sock      *websocket.Conn
	send      chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// Enqueue queues an outbound event without blocking. Events for a slow
// consumer whose buffer is full, or for a connection already torn down,
// are dropped. The send channel is never closed, so a racing close can
// never turn an enqueue into a panic.
func (c *Conn) Enqueue(ev domain.Event) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- ev:
	default:
		c.log.Debug("dropping outbound event", slog.String("type", string(ev.Type)))
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

// ReadPump reads, decodes, and dispatches inbound events until the socket
// closes. Malformed events are logged and skipped; the connection stays up.
func (c *Conn) ReadPump(onEvent EventHandler, onClose CloseHandler) {
	defer func() {
		onClose(c.ID)
		c.close()
	}()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", sl.Err(err))
			}
			return
		}

		ev, err := domain.DecodeInbound(data)
		if err != nil {
			c.log.Warn("ignoring malformed event", sl.Err(err))
			continue
		}

		onEvent(c.ID, ev)
	}
}

// WritePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(ev); err != nil {
				c.log.Debug("write error", sl.Err(err))
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
