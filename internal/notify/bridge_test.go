package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridgeFixture(t *testing.T) (*RedisPublisher, *Hub, context.CancelFunc) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hub := NewHub(0, zerolog.Nop())
	bridge := NewBridge(rdb, hub, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go bridge.Run(ctx)

	// Give PSubscribe a moment to register before tests publish.
	time.Sleep(50 * time.Millisecond)

	return NewRedisPublisher(rdb), hub, cancel
}

func TestBridgeForwardsEventsToHub(t *testing.T) {
	pub, hub, cancel := newBridgeFixture(t)
	defer cancel()

	ch := hub.Subscribe("member-1")
	defer hub.Unsubscribe("member-1")
	drainConnected(t, ch)

	err := pub.Notify(context.Background(), "member-1", Event{
		TaskID:     "task-1",
		Kind:       "tts",
		Status:     StatusCompleted,
		ResultURLs: []string{"http://files.local/audio/tts/p1/task-1/1.wav"},
	})
	require.NoError(t, err)

	select {
	case ev := <-ch.Events():
		assert.Equal(t, "task-1", ev.TaskID)
		assert.Equal(t, "tts", ev.Kind)
		assert.Equal(t, StatusCompleted, ev.Status)
		assert.Len(t, ev.ResultURLs, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("event did not cross the bridge")
	}
}

func TestBridgeRoutesByClient(t *testing.T) {
	pub, hub, cancel := newBridgeFixture(t)
	defer cancel()

	chA := hub.Subscribe("member-a")
	chB := hub.Subscribe("member-b")
	defer hub.DisconnectAll()
	drainConnected(t, chA)
	drainConnected(t, chB)

	require.NoError(t, pub.Notify(context.Background(), "member-b", Event{TaskID: "task-b", Status: StatusFailed}))

	select {
	case ev := <-chB.Events():
		assert.Equal(t, "task-b", ev.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("event did not reach member-b")
	}

	select {
	case ev := <-chA.Events():
		t.Fatalf("member-a received stray event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridgeIgnoresMalformedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hub := NewHub(0, zerolog.Nop())
	bridge := NewBridge(rdb, hub, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	ch := hub.Subscribe("member-1")
	defer hub.Unsubscribe("member-1")
	drainConnected(t, ch)

	require.NoError(t, rdb.Publish(ctx, eventChannelPrefix+"member-1", "not json").Err())

	pub := NewRedisPublisher(rdb)
	require.NoError(t, pub.Notify(ctx, "member-1", Event{TaskID: "after", Status: StatusCompleted}))

	// The bridge skips the garbage and keeps forwarding.
	select {
	case ev := <-ch.Events():
		assert.Equal(t, "after", ev.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge stopped after malformed payload")
	}
}
