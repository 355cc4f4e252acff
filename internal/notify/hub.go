// Package notify owns the per-client push channels and their delivery to
// long-lived SSE streams.
package notify

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultChannelTimeout closes a channel after this much inactivity.
const DefaultChannelTimeout = 30 * time.Minute

const channelBuffer = 16

var (
	liveChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notify_live_channels",
		Help: "Number of currently registered push channels",
	})

	droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_dropped_events_total",
		Help: "Events not delivered, by reason",
	}, []string{"reason"})
)

// Channel is one client's push stream. It is owned by the Hub for its whole
// lifetime; consumers only read Events.
type Channel struct {
	clientID string
	events   chan Event
	idle     *time.Timer
	closed   bool
}

// Events returns the stream of pushed events. The channel closes when the
// hub removes it (replacement, unsubscribe, timeout, disconnect-all).
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Hub is the single registry of push channels, keyed by client id. At most
// one channel is live per client; all operations are safe for concurrent use
// from handler goroutines and workers.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*Channel
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewHub(timeout time.Duration, logger zerolog.Logger) *Hub {
	if timeout <= 0 {
		timeout = DefaultChannelTimeout
	}
	return &Hub{
		channels: make(map[string]*Channel),
		timeout:  timeout,
		logger:   logger,
	}
}

// Subscribe registers a fresh channel for the client, replacing and closing
// any previous one, and immediately delivers a connection-established event.
func (h *Hub) Subscribe(clientID string) *Channel {
	ch := &Channel{
		clientID: clientID,
		events:   make(chan Event, channelBuffer),
	}

	h.mu.Lock()
	if old, ok := h.channels[clientID]; ok {
		h.closeLocked(old)
		h.logger.Debug().Str("client_id", clientID).Msg("Replaced existing push channel")
	}
	h.channels[clientID] = ch
	ch.idle = time.AfterFunc(h.timeout, func() { h.expire(clientID, ch) })
	liveChannels.Set(float64(len(h.channels)))

	// Buffered and freshly created, this cannot block.
	ch.events <- connectedEvent()
	h.mu.Unlock()

	return ch
}

// Send pushes an event to the client's channel. A missing channel is a
// logged no-op; a full one drops the event rather than blocking the caller.
func (h *Hub) Send(clientID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[clientID]
	if !ok {
		droppedEvents.WithLabelValues("no_channel").Inc()
		h.logger.Debug().
			Str("client_id", clientID).
			Str("task_id", ev.TaskID).
			Msg("No push channel registered, event dropped")
		return
	}

	ch.idle.Reset(h.timeout)
	select {
	case ch.events <- ev:
	default:
		droppedEvents.WithLabelValues("slow_client").Inc()
		h.logger.Warn().
			Str("client_id", clientID).
			Str("task_id", ev.TaskID).
			Msg("Push channel full, event dropped")
	}
}

// Unsubscribe removes and closes the client's current channel, if any.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[clientID]; ok {
		delete(h.channels, clientID)
		h.closeLocked(ch)
		liveChannels.Set(float64(len(h.channels)))
	}
}

// DisconnectAll force-closes every registered channel and returns how many
// were closed.
func (h *Hub) DisconnectAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.channels)
	for id, ch := range h.channels {
		delete(h.channels, id)
		h.closeLocked(ch)
	}
	liveChannels.Set(0)
	return n
}

// Len returns the number of live channels.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

// release removes the channel only if it is still the client's registered
// one; a replaced channel must not tear down its successor.
func (h *Hub) release(clientID string, ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.channels[clientID]; ok && current == ch {
		delete(h.channels, clientID)
		liveChannels.Set(float64(len(h.channels)))
	}
	h.closeLocked(ch)
}

func (h *Hub) expire(clientID string, ch *Channel) {
	h.logger.Info().Str("client_id", clientID).Dur("timeout", h.timeout).Msg("Push channel idle timeout")
	h.release(clientID, ch)
}

func (h *Hub) closeLocked(ch *Channel) {
	if ch.closed {
		return
	}
	ch.closed = true
	ch.idle.Stop()
	close(ch.events)
}
