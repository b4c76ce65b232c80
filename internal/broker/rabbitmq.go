package appkafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
)

// RabbitClient wraps a RabbitMQ connection and a channel bound to one
// durable queue. It implements both Writer and Reader so the rest of the
// application does not care which broker carries the tweets.
type RabbitClient struct {
	Conn  *amqp.Connection
	Ch    *amqp.Channel
	queue string

	deliveries <-chan amqp.Delivery
}

func NewRabbitClient(url, queue string) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitClient{Conn: conn, Ch: ch, queue: queue}, nil
}

// WriteMessages publishes every message as a persistent delivery.
func (c *RabbitClient) WriteMessages(ctx context.Context, messages ...kafka.Message) error {
	for _, msg := range messages {
		headers := amqp.Table{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}

		err := c.Ch.PublishWithContext(ctx,
			"",      // exchange
			c.queue, // routing key
			false,   // mandatory
			false,   // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				MessageId:    string(msg.Key),
				Headers:      headers,
				Body:         msg.Value,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// unacked deliveries held by one consumer
const prefetchCount = 100

// FetchMessage returns the next delivery as a kafka.Message. The delivery
// tag travels in Offset and the delivery stays unacked until CommitMessages.
func (c *RabbitClient) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if c.deliveries == nil {
		if err := c.Ch.Qos(prefetchCount, 0, false); err != nil {
			return kafka.Message{}, err
		}
		d, err := c.Ch.Consume(c.queue, "", false, false, false, false, nil)
		if err != nil {
			return kafka.Message{}, err
		}
		c.deliveries = d
	}

	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case d, ok := <-c.deliveries:
		if !ok {
			c.deliveries = nil
			return kafka.Message{}, errors.New("rabbitmq delivery channel closed")
		}
		msg := kafka.Message{
			Topic:  c.queue,
			Key:    []byte(d.MessageId),
			Value:  d.Body,
			Time:   d.Timestamp,
			Offset: int64(d.DeliveryTag),
		}
		for k, v := range d.Headers {
			if s, ok := v.(string); ok {
				msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(s)})
			}
		}
		return msg, nil
	}
}

// CommitMessages acks the deliveries behind messages. Anything left unacked
// is requeued by the broker when the channel closes.
func (c *RabbitClient) CommitMessages(ctx context.Context, messages ...kafka.Message) error {
	for _, msg := range messages {
		if err := c.Ch.Ack(uint64(msg.Offset), false); err != nil {
			return fmt.Errorf("ack delivery %d: %w", msg.Offset, err)
		}
	}
	return nil
}

func (c *RabbitClient) Close() error {
	var err error
	if c.Ch != nil {
		err = c.Ch.Close()
	}
	if c.Conn != nil {
		if cerr := c.Conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
