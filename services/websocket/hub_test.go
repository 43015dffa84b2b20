package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, hub *Hub, userID uint) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, userID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversOnlyToTargetUser(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	alice := dial(t, hub, 1)
	bob := dial(t, hub, 2)

	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, hub.IsOnline(1))
	assert.False(t, hub.IsOnline(3))

	hub.BroadcastToUser(1, Message{Type: "vote_update", Data: map[string]int{"votes_for": 3}})

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := alice.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "vote_update", got.Type)
	assert.Equal(t, 3, got.Data["votes_for"])

	_ = bob.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err = bob.ReadMessage()
	assert.Error(t, err, "bob must not receive alice's message")
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub, 9)
	require.Eventually(t, func() bool { return hub.IsOnline(9) }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return !hub.IsOnline(9) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.GetClientCount())
}
