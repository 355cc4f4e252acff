package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/voicestudio/conversion-service/internal/task"
)

// ErrClosed is returned when publishing to a closed in-process broker.
var ErrClosed = errors.New("broker closed")

const memoryQueueDepth = 256

// Memory is an in-process broker backed by one buffered channel per kind.
// It preserves publish order per queue and is used by tests and local
// single-binary runs where no RabbitMQ is available.
type Memory struct {
	mu     sync.Mutex
	queues map[task.Kind]chan []byte
	closed bool
}

func NewMemory() *Memory {
	queues := make(map[task.Kind]chan []byte, len(task.Kinds))
	for _, kind := range task.Kinds {
		queues[kind] = make(chan []byte, memoryQueueDepth)
	}
	return &Memory{queues: queues}
}

func (b *Memory) Publish(ctx context.Context, kind task.Kind, body []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	q, ok := b.queues[kind]
	b.mu.Unlock()
	if !ok {
		return errors.New("unknown kind: " + string(kind))
	}

	msg := make([]byte, len(body))
	copy(msg, body)

	select {
	case q <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("queue full: " + string(kind))
	}
}

func (b *Memory) Consume(ctx context.Context, kind task.Kind) (<-chan Delivery, error) {
	b.mu.Lock()
	q, ok := b.queues[kind]
	b.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown kind: " + string(kind))
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case body, ok := <-q:
				if !ok {
					return
				}
				d := Delivery{
					Kind: kind,
					Body: body,
					Ack:  func() error { return nil },
					Nack: func(requeue bool) error {
						if requeue {
							return b.Publish(context.Background(), kind, body)
						}
						return nil
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		for _, q := range b.queues {
			close(q)
		}
	}
	return nil
}
