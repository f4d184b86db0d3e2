package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamlink/internal/ingest"
	"teamlink/internal/models"
)

func TestAddRemoveClient(t *testing.T) {
	hub := NewHub()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	hub.AddClient("c1", conn1, ConnInfo{ConnID: "k1", MemberID: "u1"})
	hub.AddClient("c1", conn2, ConnInfo{ConnID: "k2", MemberID: "u2"})
	assert.Len(t, hub.rooms["c1"], 2)
	assert.Equal(t, "u1", hub.connInfo["c1"][conn1].MemberID)

	hub.RemoveClient("c1", conn1)
	assert.Len(t, hub.rooms["c1"], 1)

	// Removing the last client tears the room down entirely.
	hub.RemoveClient("c1", conn2)
	_, ok := hub.rooms["c1"]
	assert.False(t, ok)
	_, ok = hub.connInfo["c1"]
	assert.False(t, ok)
}

// dialTestClient upgrades a real websocket pair and registers the server side
// of it with the hub.
func dialTestClient(t *testing.T, hub *Hub, conversationID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.AddClient(conversationID, conn, ConnInfo{ConnID: newConnID()})
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestBroadcastMessage(t *testing.T) {
	hub := NewHub()
	client := dialTestClient(t, hub, "c1")
	stranger := dialTestClient(t, hub, "c2")

	hub.BroadcastMessage("c1", models.Message{ID: "m1", ConversationID: "c1", Content: "hello", Kind: models.KindChat})

	client.SetReadDeadline(time.Now().Add(time.Second))
	var event Event
	require.NoError(t, client.ReadJSON(&event))
	assert.Equal(t, "message", event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, "m1", event.Message.ID)

	// The c2 room must stay silent.
	stranger.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := stranger.ReadMessage()
	require.Error(t, err)
}

func TestRunForwardsBusEvents(t *testing.T) {
	hub := NewHub()
	bus := ingest.NewBus()
	client := dialTestClient(t, hub, "c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, bus)

	// Give Run a beat to subscribe before publishing.
	time.Sleep(10 * time.Millisecond)
	bus.Publish(ingest.Event{ConversationID: "c1", Message: models.Message{ID: "m1", ConversationID: "c1"}, Source: ingest.SourceDevice})

	client.SetReadDeadline(time.Now().Add(time.Second))
	var event Event
	require.NoError(t, client.ReadJSON(&event))
	assert.Equal(t, "m1", event.Message.ID)
}
