package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/dom/presence-registry/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isClosed(c *Client) bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(nil, m)
	go hub.Run()
	t.Cleanup(hub.Stop)

	alice1 := NewClient(hub, nil, "alice", "c1")
	alice2 := NewClient(hub, nil, "alice", "c2")
	bob := NewClient(hub, nil, "bob", "c3")

	hub.Register(alice1)
	hub.Register(alice2)
	hub.Register(bob)

	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.UserClientCount("alice"))
	assert.Equal(t, 0, hub.UserClientCount("carol"))
	assert.Equal(t, float64(3), promtest.ToFloat64(m.ActiveConnections))

	hub.Unregister(alice1)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, isClosed(alice1))
	assert.False(t, isClosed(alice2))

	// A second unregister of the same client is ignored.
	hub.Unregister(alice1)
	hub.Register(NewClient(hub, nil, "carol", "c4"))
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(3), promtest.ToFloat64(m.ActiveConnections))
}

func TestHub_Stop(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(nil, m)
	go hub.Run()

	c1 := NewClient(hub, nil, "alice", "c1")
	c2 := NewClient(hub, nil, "bob", "c2")
	hub.Register(c1)
	hub.Register(c2)

	hub.Stop()
	hub.Stop()

	assert.True(t, isClosed(c1))
	assert.True(t, isClosed(c2))
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, float64(0), promtest.ToFloat64(m.ActiveConnections))

	late := NewClient(hub, nil, "carol", "c3")
	hub.Register(late)
	assert.True(t, isClosed(late), "clients registered after stop are closed")

	// Unregister after stop must not block.
	done := make(chan struct{})
	go func() {
		hub.Unregister(c1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unregister blocked after stop")
	}
}

func TestHub_ConcurrentStop(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	hub.Register(NewClient(hub, nil, "alice", "c1"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Stop()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_ServeAfterStop(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	hub.Stop()

	late := NewClient(hub, nil, "alice", "c1")
	assert.False(t, hub.Serve(late), "a stopped hub refuses new clients")
	assert.True(t, isClosed(late))

	waited := make(chan struct{})
	go func() {
		hub.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("wait blocked on a refused client")
	}
}

func TestClient_SendAfterClose(t *testing.T) {
	hub := NewHub(nil, nil)
	client := NewClient(hub, nil, "alice", "c1")

	msg, err := NewMessage(MessageTypeHeartbeatAck, nil)
	require.NoError(t, err)

	client.Send(msg)
	require.Len(t, client.send, 1)

	client.Close()
	client.Close()
	client.Send(msg)
	assert.True(t, isClosed(client))
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(MessageTypePresenceStatus, PresenceStatusPayload{Online: []string{"u1"}})
	require.NoError(t, err)

	assert.Equal(t, MessageTypePresenceStatus, msg.Type)
	assert.JSONEq(t, `{"online":["u1"],"lastActivity":null}`, string(msg.Payload))
	assert.NotZero(t, msg.Timestamp)

	empty, err := NewMessage(MessageTypeHeartbeatAck, nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Payload)
}
