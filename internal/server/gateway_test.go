package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRoomIDFromChannel(t *testing.T) {
	assert.Equal(t, "r1", roomIDFromChannel("room:r1:events"))
	assert.Equal(t, "a:b", roomIDFromChannel("room:a:b:events"))
	assert.Equal(t, "", roomIDFromChannel("room:r1"))
	assert.Equal(t, "", roomIDFromChannel("other:r1:events"))
	assert.Equal(t, "", roomIDFromChannel(""))
}

func newHubClient(userID string, buffer int) *Client {
	return &Client{
		Send:   make(chan []byte, buffer),
		UserID: userID,
		Rooms:  make(map[string]bool),
	}
}

func TestHubBroadcastToRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())

	subscribed := newHubClient("alice", 4)
	other := newHubClient("bob", 4)
	hub.registerClient(subscribed)
	hub.registerClient(other)
	hub.JoinRoom(subscribed, "r1")
	hub.JoinRoom(other, "r2")

	hub.BroadcastToRoom("r1", []byte("hello"))

	select {
	case payload := <-subscribed.Send:
		assert.Equal(t, "hello", string(payload))
	default:
		t.Fatal("subscribed client received nothing")
	}
	assert.Empty(t, other.Send)
}

func TestHubBroadcastDropsSlowClient(t *testing.T) {
	hub := NewHub(zap.NewNop())

	slow := newHubClient("alice", 1)
	hub.registerClient(slow)
	hub.JoinRoom(slow, "r1")

	hub.BroadcastToRoom("r1", []byte("first"))
	hub.BroadcastToRoom("r1", []byte("second")) // buffer full, client dropped

	_, open := <-slow.Send
	assert.True(t, open) // the buffered message
	_, open = <-slow.Send
	assert.False(t, open) // channel closed on drop

	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	assert.NotContains(t, hub.clients, slow)
	assert.Empty(t, hub.rooms["r1"])
}

func TestHubLeaveRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())

	client := newHubClient("alice", 4)
	hub.registerClient(client)
	hub.JoinRoom(client, "r1")
	hub.LeaveRoom(client, "r1")

	hub.BroadcastToRoom("r1", []byte("hello"))
	assert.Empty(t, client.Send)
	assert.NotContains(t, client.Rooms, "r1")
}
