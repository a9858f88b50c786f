package broadcast

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/tool"
)

// -------------------- Helpers --------------------

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ClientCount() == want
	}, 2*time.Second, 5*time.Millisecond)
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded
}

// -------------------- Fan-out --------------------

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	h := NewHub()
	defer h.Close()

	srv := httptest.NewServer(h)
	defer srv.Close()

	first := dial(t, srv)
	second := dial(t, srv)
	waitClients(t, h, 2)

	require.NoError(t, h.Broadcast(map[string]any{"type": "tool", "command": "showNotification"}))

	for _, conn := range []*websocket.Conn{first, second} {
		got := readJSON(t, conn)
		assert.Equal(t, "tool", got["type"])
		assert.Equal(t, "showNotification", got["command"])
	}
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	h := NewHub()
	defer h.Close()

	// Nobody listening is not an error; render results still report sent.
	assert.NoError(t, h.Broadcast(map[string]any{"type": "tool"}))
}

func TestHub_BroadcastMarshalFailure(t *testing.T) {
	h := NewHub()
	defer h.Close()

	err := h.Broadcast(make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal")
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := NewHub(func(o *Options) {
		o.QueueSize = 1
	})
	defer h.Close()

	srv := httptest.NewServer(h)
	defer srv.Close()

	dial(t, srv) // never read from it
	waitClients(t, h, 1)

	// Outpace the write pump; the one-slot queue overflows and the client
	// is dropped rather than stalling the feed.
	for i := 0; i < 1000 && h.ClientCount() == 1; i++ {
		require.NoError(t, h.Broadcast(map[string]any{"seq": i}))
	}

	assert.Equal(t, 0, h.ClientCount())
}

// -------------------- Lifecycle --------------------

func TestHub_ClientDisconnectLowersCount(t *testing.T) {
	h := NewHub()
	defer h.Close()

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)
}

func TestHub_Close(t *testing.T) {
	h := NewHub()

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)

	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.ClientCount())
	assert.ErrorIs(t, h.Broadcast(map[string]any{"type": "tool"}), ErrClosed)
	assert.NoError(t, h.Close(), "closing twice is fine")

	// The peer sees the connection go away.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_UpgradeRequiredOnPlainRequest(t *testing.T) {
	h := NewHub()
	defer h.Close()

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, 0, h.ClientCount())
}

// -------------------- Executor Integration --------------------

func TestHub_ServesRenderCategory(t *testing.T) {
	h := NewHub()
	defer h.Close()

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)

	exec := tool.NewExecutor(tool.DefaultCatalog(), func(o *tool.Options) {
		o.Broadcaster = h
	})

	res := exec.Execute(context.Background(), "show_notification", map[string]any{
		"message": "build finished",
	})
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, tool.SourceWebsocket, res.Source)

	got := readJSON(t, conn)
	assert.Equal(t, "tool", got["type"])
	assert.Equal(t, "showNotification", got["command"])

	payload, ok := got["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "build finished", payload["message"])

	_, err := time.Parse(time.RFC3339, got["timestamp"].(string))
	assert.NoError(t, err)
}
