package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/polymeet/polymeet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades each request and writes every received frame back.
func echoServer(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer sock.Close()
		for {
			mt, data, err := sock.ReadMessage()
			if err != nil {
				return
			}
			if err := sock.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannelSendAndListen(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ch, err := Dial(context.Background(), echoServer(t), log)
	require.NoError(t, err)
	defer ch.Close()

	received := make(chan domain.Event, 4)
	go ch.Listen(func(ev domain.Event) { received <- ev })

	require.NoError(t, ch.Send(domain.Event{
		Type:     domain.KindJoinRequest,
		RoomID:   "r1",
		Username: "alice",
	}))

	select {
	case ev := <-received:
		assert.Equal(t, domain.KindJoinRequest, ev.Type)
		assert.Equal(t, "r1", ev.RoomID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed event")
	}
}

func TestChannelListenReturnsOnClose(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ch, err := Dial(context.Background(), echoServer(t), log)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- ch.Listen(func(domain.Event) {})
	}()

	require.NoError(t, ch.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return after close")
	}
}

func TestDialFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", nil)
	assert.Error(t, err)
}
