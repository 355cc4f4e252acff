package broker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/voicestudio/conversion-service/internal/message"
	"github.com/voicestudio/conversion-service/internal/task"
)

// AMQP implements Publisher and Consumer on top of RabbitMQ. One direct
// exchange routes messages by kind to a durable queue per kind. Publishing
// and consuming use separate channels; amqp channels are not safe for
// concurrent use, so publishes serialize through a mutex.
type AMQP struct {
	conn      *amqp.Connection
	publishCh *amqp.Channel
	publishMu sync.Mutex
	logger    zerolog.Logger
}

// DialAMQP connects to the broker and declares the exchange and the durable
// queue plus binding for every task kind. Declarations are idempotent, so
// start order between server and workers does not matter.
func DialAMQP(url string, logger zerolog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQP{conn: conn, publishCh: ch, logger: logger}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(message.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", message.Exchange, err)
	}
	for _, kind := range task.Kinds {
		queue := message.QueueName(kind)
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, message.RoutingKey(kind), message.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

// Publish sends a persistent message routed by kind.
func (b *AMQP) Publish(ctx context.Context, kind task.Kind, body []byte) error {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	err := b.publishCh.PublishWithContext(ctx, message.Exchange, message.RoutingKey(kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", message.RoutingKey(kind), err)
	}
	return nil
}

// Consume opens a dedicated channel on the kind's queue with prefetch 1 and
// manual acks. Prefetch 1 keeps processing in publish order for a single
// consumer; running more consumers on the same queue trades ordering for
// throughput under standard competing-consumers semantics.
func (b *AMQP) Consume(ctx context.Context, kind task.Kind) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel for %s: %w", kind, err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos for %s: %w", kind, err)
	}

	queue := message.QueueName(kind)
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					b.logger.Warn().Str("queue", queue).Msg("Consume channel closed")
					return
				}
				out <- Delivery{
					Kind: kind,
					Body: d.Body,
					Ack:  func() error { return d.Ack(false) },
					Nack: func(requeue bool) error { return d.Nack(false, requeue) },
				}
			}
		}
	}()
	return out, nil
}

// Closed reports whether the underlying connection is gone.
func (b *AMQP) Closed() bool {
	return b.conn.IsClosed()
}

func (b *AMQP) Close() error {
	return b.conn.Close()
}
