package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/logger"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger.Nop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestPublishReachesClients(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, srv)
	b := dial(t, srv)

	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(EventWarning, Warning{Message: "disk full", Source: SourceHistoryPrune}))

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var got struct {
			Event   string  `json:"event"`
			Payload Warning `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, EventWarning, got.Event)
		assert.Equal(t, "disk full", got.Payload.Message)
		assert.Equal(t, SourceHistoryPrune, got.Payload.Source)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(logger.Nop())

	for range broadcastBuffer {
		require.NoError(t, hub.Publish(EventSnapshot, map[string]int{"n": 1}))
	}

	done := make(chan error, 1)
	go func() { done <- hub.Publish(EventSnapshot, nil) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, ErrHubFull))
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestPublishAfterStop(t *testing.T) {
	hub := NewHub(logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, hub.Run(ctx))

	err := hub.Publish(EventSnapshot, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrHubClosed))
}

func TestRunWaitsForCloseFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger.Nop())

	stopped := make(chan error, 1)
	go func() { stopped <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Run has returned, so the close frame is already on the wire
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), err.Error())
}

func TestPublishEncodeError(t *testing.T) {
	hub := NewHub(logger.Nop())

	err := hub.Publish(EventSnapshot, func() {})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrEncode))
}

func TestLocalOrigin(t *testing.T) {
	cases := map[string]bool{
		"":                        true,
		"http://localhost:5173":   true,
		"http://127.0.0.1:7420":   true,
		"http://[::1]:7420":       true,
		"https://tauri.localhost": true,
		"https://example.com":     false,
		"http://192.168.1.20":     false,
	}

	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, localOrigin(r), origin)
	}
}
