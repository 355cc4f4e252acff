package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(timeout time.Duration) *Hub {
	return NewHub(timeout, zerolog.Nop())
}

func drainConnected(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case ev := <-ch.Events():
		require.Equal(t, StatusConnected, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("no connection event delivered")
	}
}

func TestSubscribeDeliversConnectionEvent(t *testing.T) {
	h := newTestHub(0)
	ch := h.Subscribe("member-1")
	defer h.Unsubscribe("member-1")

	drainConnected(t, ch)
	assert.Equal(t, 1, h.Len())
}

func TestSendDeliversToSubscriber(t *testing.T) {
	h := newTestHub(0)
	ch := h.Subscribe("member-1")
	defer h.Unsubscribe("member-1")
	drainConnected(t, ch)

	h.Send("member-1", Event{TaskID: "t1", Status: StatusCompleted})

	select {
	case ev := <-ch.Events():
		assert.Equal(t, "t1", ev.TaskID)
		assert.Equal(t, StatusCompleted, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSendToAbsentClientIsNoOp(t *testing.T) {
	h := newTestHub(0)
	// Must not panic or block.
	h.Send("nobody", Event{TaskID: "t1", Status: StatusCompleted})
	assert.Equal(t, 0, h.Len())
}

func TestSubscribeReplacesExistingChannel(t *testing.T) {
	h := newTestHub(0)
	first := h.Subscribe("member-1")
	drainConnected(t, first)

	second := h.Subscribe("member-1")
	defer h.Unsubscribe("member-1")
	drainConnected(t, second)

	// The replaced channel is closed.
	_, open := <-first.Events()
	assert.False(t, open)

	// Events now flow to the replacement only.
	h.Send("member-1", Event{TaskID: "t2", Status: StatusFailed})
	select {
	case ev := <-second.Events():
		assert.Equal(t, "t2", ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered to replacement channel")
	}
	assert.Equal(t, 1, h.Len())
}

func TestReplacedChannelReleaseKeepsSuccessor(t *testing.T) {
	h := newTestHub(0)
	first := h.Subscribe("member-1")
	drainConnected(t, first)
	second := h.Subscribe("member-1")
	drainConnected(t, second)

	// The SSE handler of the replaced stream releases its own channel on
	// exit; the successor must stay registered.
	h.release("member-1", first)
	assert.Equal(t, 1, h.Len())

	h.release("member-1", second)
	assert.Equal(t, 0, h.Len())
}

func TestFullChannelDropsInsteadOfBlocking(t *testing.T) {
	h := newTestHub(0)
	ch := h.Subscribe("member-1")
	defer h.Unsubscribe("member-1")
	drainConnected(t, ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < channelBuffer+10; i++ {
			h.Send("member-1", Event{TaskID: "t", Status: StatusCompleted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on a full channel")
	}
}

func TestIdleTimeoutClosesChannel(t *testing.T) {
	h := newTestHub(50 * time.Millisecond)
	ch := h.Subscribe("member-1")
	drainConnected(t, ch)

	select {
	case _, open := <-ch.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after idle timeout")
	}
	assert.Equal(t, 0, h.Len())
}

func TestSendResetsIdleTimer(t *testing.T) {
	h := newTestHub(150 * time.Millisecond)
	ch := h.Subscribe("member-1")
	defer h.Unsubscribe("member-1")
	drainConnected(t, ch)

	// Keep touching the channel past the original deadline.
	for i := 0; i < 4; i++ {
		time.Sleep(75 * time.Millisecond)
		h.Send("member-1", Event{TaskID: "t", Status: StatusCompleted})
		select {
		case _, open := <-ch.Events():
			require.True(t, open, "channel expired despite activity")
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestDisconnectAll(t *testing.T) {
	h := newTestHub(0)
	a := h.Subscribe("member-a")
	b := h.Subscribe("member-b")
	drainConnected(t, a)
	drainConnected(t, b)

	n := h.DisconnectAll()
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, h.Len())

	_, open := <-a.Events()
	assert.False(t, open)
	_, open = <-b.Events()
	assert.False(t, open)

	// Idempotent.
	assert.Equal(t, 0, h.DisconnectAll())
}

func TestConcurrentSubscribeAndSend(t *testing.T) {
	h := newTestHub(0)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ch := h.Subscribe("member-1")
				h.Send("member-1", Event{TaskID: "t", Status: StatusCompleted})
				h.release("member-1", ch)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Len())
}
