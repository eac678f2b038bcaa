package bus

import (
	"context"
	"fmt"

	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "mediaorch"

// RabbitBus implements Bus over an AMQP topic exchange: each logical topic
// (spec §4.3) becomes a routing key, each Subscribe call declares its own
// durable queue bound to that routing key so independent consumer groups
// (e.g. the aggregator's transcode-results listener vs. a metrics sink) get
// independent, at-least-once delivery.
type RabbitBus struct {
	conn *amqp.Connection
	pubCh *amqp.Channel
}

func DialRabbit(url string) (*RabbitBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, cmn.Wrap(err, "dial amqp broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, cmn.Wrap(err, "open amqp publish channel")
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, cmn.Wrap(err, "declare amqp exchange")
	}
	return &RabbitBus{conn: conn, pubCh: ch}, nil
}

func (b *RabbitBus) Publish(ctx context.Context, topic string, envelope []byte) error {
	err := b.pubCh.PublishWithContext(ctx, exchangeName, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         envelope,
	})
	if err != nil {
		return cmn.NewErrBusPublishFailed("publish to "+topic, err)
	}
	return nil
}

func (b *RabbitBus) Subscribe(ctx context.Context, topic string, opts SubscribeOptions, handler Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return cmn.Wrap(err, "open amqp consume channel")
	}
	defer ch.Close()

	inflight := opts.Inflight
	if inflight <= 0 {
		inflight = 8
	}
	if err := ch.Qos(inflight, 0, false); err != nil {
		return cmn.Wrap(err, "set amqp prefetch")
	}

	queueName := fmt.Sprintf("%s.%s", topic, opts.Subscription)
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return cmn.Wrap(err, "declare amqp queue")
	}
	if err := ch.QueueBind(queueName, topic, exchangeName, false, nil); err != nil {
		return cmn.Wrap(err, "bind amqp queue")
	}

	deliveries, err := ch.Consume(queueName, opts.Subscription, false, false, false, false, nil)
	if err != nil {
		return cmn.Wrap(err, "start amqp consume")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			msg := Message{
				Body: d.Body,
				Ack:  func() { _ = d.Ack(false) },
				Nack: func(requeue bool) { _ = d.Nack(false, requeue) },
			}
			if err := handler(ctx, msg); err != nil {
				nlog.Warningf("bus handler error on %s: %v", topic, err)
			}
		}
	}
}

func (b *RabbitBus) Close() error {
	b.pubCh.Close()
	return b.conn.Close()
}

var _ Bus = (*RabbitBus)(nil)
