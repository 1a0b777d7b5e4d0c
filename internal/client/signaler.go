package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/polymeet/polymeet/internal/domain"
	"github.com/polymeet/polymeet/lib/logger/sl"
)

// Signaler sends events to the signaling server. Close releases the
// underlying channel; a closed signaler rejects further sends.
type Signaler interface {
	Send(ev domain.Event) error
	Close() error
}

// Channel is the client end of the signaling websocket.
type Channel struct {
	sock *websocket.Conn
	log  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the signaling server's websocket endpoint.
func Dial(ctx context.Context, url string, log *slog.Logger) (*Channel, error) {
	if log == nil {
		log = slog.Default()
	}

	sock, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &Channel{sock: sock, log: log}, nil
}

func (c *Channel) Send(ev domain.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteJSON(ev)
}

// Listen reads server events and hands them to the handler until the
// connection closes. Malformed frames are logged and skipped.
func (c *Channel) Listen(handler func(ev domain.Event)) error {
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return err
		}

		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("ignoring malformed server event", sl.Err(err))
			continue
		}

		handler(ev)
	}
}

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.sock.Close()
	})
	return err
}
