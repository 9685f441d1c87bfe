package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()

	hub := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func watcher(hub *Hub, partition string, buffer int) *Client {
	return &Client{hub: hub, partition: partition, userID: "u", send: make(chan []byte, buffer)}
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestHubBroadcastsToPartitionWatchers(t *testing.T) {
	hub, _ := runHub(t)

	a := watcher(hub, "bellagio:nlh-2-5", 4)
	b := watcher(hub, "bellagio:nlh-2-5", 4)
	other := watcher(hub, "bellagio:plo-5-10", 4)
	for _, c := range []*Client{a, b, other} {
		require.True(t, hub.Register(c))
	}

	hub.Broadcast("bellagio:nlh-2-5", []byte("changed"))

	assert.Equal(t, "changed", string(receive(t, a)))
	assert.Equal(t, "changed", string(receive(t, b)))

	// Broadcasts are processed in order, so a second one proves other got nothing
	hub.Broadcast("bellagio:plo-5-10", []byte("second"))
	assert.Equal(t, "second", string(receive(t, other)))

	assert.Equal(t, 3, hub.ConnectionCount())
	assert.Equal(t, 2, hub.PartitionCount())
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub, _ := runHub(t)

	c := watcher(hub, "bellagio:nlh-2-5", 1)
	require.True(t, hub.Register(c))
	hub.Unregister(c)
	hub.Unregister(c)

	_, ok := <-c.send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.PartitionCount())
}

func TestHubDropsSlowWatchers(t *testing.T) {
	hub, _ := runHub(t)

	slow := watcher(hub, "bellagio:nlh-2-5", 1)
	require.True(t, hub.Register(slow))

	hub.Broadcast("bellagio:nlh-2-5", []byte("1"))
	hub.Broadcast("bellagio:nlh-2-5", []byte("2"))

	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "1", string(<-slow.send))
	_, ok := <-slow.send
	assert.False(t, ok)

	// A late unregister from the read pump is harmless
	hub.Unregister(slow)
}

func TestHubStopClosesWatchers(t *testing.T) {
	hub, cancel := runHub(t)

	c := watcher(hub, "bellagio:nlh-2-5", 1)
	require.True(t, hub.Register(c))

	cancel()

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watcher not closed")
	}

	assert.Eventually(t, func() bool {
		return !hub.Register(watcher(hub, "bellagio:nlh-2-5", 1))
	}, time.Second, 5*time.Millisecond)
}

func TestRoute(t *testing.T) {
	p := models.Partition{RoomID: "bellagio", GameID: "nlh-2-5"}
	payload, err := notifier.Encode(p, 3, time.Now())
	require.NoError(t, err)

	key, err := route(notifier.ChannelPrefix+p.Key(), payload)
	require.NoError(t, err)
	assert.Equal(t, "bellagio:nlh-2-5", key)

	_, err = route("workflow:events:u1", payload)
	assert.Error(t, err)

	_, err = route(notifier.ChannelPrefix+"aria:nlh-2-5", payload)
	assert.Error(t, err)

	_, err = route(notifier.ChannelPrefix+p.Key(), []byte(`{"roomId":"bellagio"}`))
	assert.Error(t, err)

	// "bellagio:nlh" / "2-5" renders the same key but is not a partition
	ambiguous, err := notifier.Encode(models.Partition{RoomID: "bellagio:nlh", GameID: "2-5"}, 1, time.Now())
	require.NoError(t, err)
	_, err = route(notifier.ChannelPrefix+"bellagio:nlh:2-5", ambiguous)
	assert.Error(t, err)
}

func TestHandleWebSocketRejectsBadPartition(t *testing.T) {
	srv := NewServer(NewHub(logger.Discard()), nil, logger.Discard())

	for _, query := range []string{
		"room=bellagio",
		"room=bellagio:nlh&game=2-5",
		"room=bellagio&game=nlh:2-5",
	} {
		req := httptest.NewRequest(http.MethodGet, "/ws?"+query, nil)
		req.Header.Set("X-User-ID", "u1")
		rec := httptest.NewRecorder()

		srv.HandleWebSocket(rec, req)
		assert.Equalf(t, http.StatusBadRequest, rec.Code, query)
	}
}
