// Package broker abstracts the task queue behind publish/consume interfaces
// so the AMQP broker and the in-process channel implementation are
// interchangeable.
package broker

import (
	"context"

	"github.com/voicestudio/conversion-service/internal/task"
)

// Delivery is one message pulled from a queue. Exactly one of Ack or Nack
// must be called once handling finishes.
type Delivery struct {
	Kind task.Kind
	Body []byte

	// Ack confirms the message was handled and removes it from the queue.
	Ack func() error
	// Nack rejects the message. With requeue false the message is dropped
	// (poison messages must not wedge the queue).
	Nack func(requeue bool) error
}

// Publisher sends task messages to the queue bound for a kind.
type Publisher interface {
	Publish(ctx context.Context, kind task.Kind, body []byte) error
	Close() error
}

// Consumer delivers messages from a kind's queue in publish order. The
// returned channel closes when the context is cancelled or the underlying
// connection drops.
type Consumer interface {
	Consume(ctx context.Context, kind task.Kind) (<-chan Delivery, error)
	Close() error
}
