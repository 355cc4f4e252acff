package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicestudio/conversion-service/internal/task"
)

func receiveOne(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func TestMemoryPreservesPublishOrder(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(ctx, task.KindConcat, []byte(fmt.Sprintf("msg-%d", i))))
	}

	ch, err := b.Consume(ctx, task.KindConcat)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		d := receiveOne(t, ch)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(d.Body))
		require.NoError(t, d.Ack())
	}
}

func TestMemoryRoutesByKind(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, task.KindTTS, []byte("speech")))
	require.NoError(t, b.Publish(ctx, task.KindVC, []byte("voice")))

	ttsCh, err := b.Consume(ctx, task.KindTTS)
	require.NoError(t, err)
	vcCh, err := b.Consume(ctx, task.KindVC)
	require.NoError(t, err)

	assert.Equal(t, "speech", string(receiveOne(t, ttsCh).Body))
	assert.Equal(t, "voice", string(receiveOne(t, vcCh).Body))
}

func TestMemoryNackRequeue(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, task.KindTTS, []byte("retry-me")))

	ch, err := b.Consume(ctx, task.KindTTS)
	require.NoError(t, err)

	first := receiveOne(t, ch)
	require.NoError(t, first.Nack(true))

	second := receiveOne(t, ch)
	assert.Equal(t, "retry-me", string(second.Body))
	require.NoError(t, second.Ack())
}

func TestMemoryPublishAfterClose(t *testing.T) {
	b := NewMemory()
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), task.KindTTS, []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryUnknownKind(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	err := b.Publish(context.Background(), task.Kind("video"), []byte("x"))
	assert.Error(t, err)

	_, err = b.Consume(context.Background(), task.Kind("video"))
	assert.Error(t, err)
}
