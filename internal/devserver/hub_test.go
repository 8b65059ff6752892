package devserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_broadcastReachesAllClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conns := []*websocket.Conn{dialHub(t, srv.URL), dialHub(t, srv.URL), dialHub(t, srv.URL)}
	require.Eventually(t, func() bool { return hub.Clients() == 3 }, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 3, hub.Broadcast(context.Background(), ReloadMessage))

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		typ, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, typ)
		require.Equal(t, ReloadMessage, string(msg))
	}
}

func TestHub_dropsDisconnectedClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	keep := dialHub(t, srv.URL)
	gone := dialHub(t, srv.URL)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, gone.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, hub.Broadcast(context.Background(), ReloadMessage))

	require.NoError(t, keep.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := keep.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, ReloadMessage, string(msg))
}

func TestHub_close(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv.URL)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Close()
	require.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestHub_broadcastWithoutClients(t *testing.T) {
	require.Equal(t, 0, NewHub().Broadcast(context.Background(), ReloadMessage))
}
