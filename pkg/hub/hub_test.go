package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, snapshot Snapshot) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", nil, snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	require.Eventually(t, h.IsRunning, time.Second, time.Millisecond)
	return h, cancel
}

// attach registers a client without a websocket connection.
func attach(h *Hub, buf int) *Client {
	c := &Client{id: "c", hub: h, send: make(chan Message, buf)}
	h.register <- c
	return c
}

func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return m
	case <-time.After(time.Second):
		t.Fatal("no message")
		return Message{}
	}
}

func TestHub_SnapshotAndBroadcast(t *testing.T) {
	h, _ := startHub(t, func() (Message, bool) {
		msg, err := JSON(map[string]string{"phase": "idle"})
		return msg, err == nil
	})

	c := attach(h, 8)
	assert.JSONEq(t, `{"phase":"idle"}`, string(recv(t, c).Data))
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.BroadcastJSON(map[string]int{"n": 1}))
	m := recv(t, c)
	assert.Equal(t, JSONMessage, m.Type)
	assert.JSONEq(t, `{"n":1}`, string(m.Data))
}

func TestHub_Unregister(t *testing.T) {
	h, _ := startHub(t, nil)
	c := attach(h, 8)
	h.unregister <- c

	_, ok := <-c.send
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, _ := startHub(t, nil)
	slow := attach(h, 1)
	fast := attach(h, 8)

	h.Broadcast(Message{Data: []byte("1")})
	h.Broadcast(Message{Data: []byte("2")})

	assert.Equal(t, "1", string(recv(t, fast).Data))
	assert.Equal(t, "2", string(recv(t, fast).Data))

	assert.Equal(t, "1", string((<-slow.send).Data))
	_, ok := <-slow.send
	assert.False(t, ok, "slow client dropped")
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)
}

func TestHub_StopClosesClients(t *testing.T) {
	h, cancel := startHub(t, nil)
	c := attach(h, 8)
	cancel()

	<-h.Done()
	_, ok := <-c.send
	assert.False(t, ok)
	assert.False(t, h.IsRunning())
	assert.Nil(t, NewClient(h, nil))
}
