package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/fieldsync/internal/engine"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) engine.Event {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev engine.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readEvent(t, ctx, conn)
	assert.Equal(t, EventHello, hello.Type)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Notify(ctx, engine.Event{Type: engine.EventRunCompleted, RunID: "run-1", Mode: engine.ModeFull})
	ev := readEvent(t, ctx, conn)
	assert.Equal(t, engine.EventRunCompleted, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, engine.ModeFull, ev.Mode)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestHubRemovesDisconnectedClients(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	readEvent(t, ctx, conn)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "bye")
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubNotifyAfterCloseDoesNotBlock(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	hub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < hubQueueSize*2; i++ {
			hub.Notify(context.Background(), engine.Event{Type: engine.EventRunStarted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked after Close")
	}
}
