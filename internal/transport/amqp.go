package transport

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"teamlink/internal/observability"
)

// AMQPNetwork carries envelopes over a RabbitMQ topic exchange.
type AMQPNetwork struct {
	conn     *amqp.Connection
	exchange string

	mu  sync.Mutex
	pub *amqp.Channel
}

// NewNetwork connects to RabbitMQ. When the URL is empty or the broker is
// unreachable a disconnected transport is returned instead of an error, so
// the router can fall back to the device channel.
func NewNetwork(amqpURL, exchange string) Network {
	if amqpURL == "" {
		log.Printf("network transport disconnected: empty amqp url")
		return disconnectedNetwork{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Printf("network transport disconnected: %v", err)
		return disconnectedNetwork{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("network transport disconnected: %v", err)
		_ = conn.Close()
		return disconnectedNetwork{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		log.Printf("network transport disconnected: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return disconnectedNetwork{reason: err.Error()}
	}

	log.Printf("network transport connected exchange=%s", exchange)
	return &AMQPNetwork{conn: conn, exchange: exchange, pub: ch}
}

// Connected reports whether the broker connection is still open.
func (n *AMQPNetwork) Connected() bool {
	return n.conn != nil && !n.conn.IsClosed()
}

// Publish wraps data in a success envelope and publishes it on topic.
func (n *AMQPNetwork) Publish(ctx context.Context, topic string, data any, requestID string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	body, err := json.Marshal(Envelope{Code: CodeOK, Data: raw, RequestID: requestID})
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.pub.PublishWithContext(ctx, n.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		log.Printf("network publish failed topic=%s: %v", topic, err)
	}
	return err
}

// Subscribe binds an exclusive queue to topic and feeds decoded envelopes to
// fn. Each subscription owns its own channel so it can be canceled without
// disturbing others.
func (n *AMQPNetwork) Subscribe(topic string, fn Handler) (CancelFunc, error) {
	ch, err := n.conn.Channel()
	if err != nil {
		return nil, err
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(queue.Name, topic, n.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	go func() {
		for delivery := range deliveries {
			var envelope Envelope
			if err := json.Unmarshal(delivery.Body, &envelope); err != nil {
				log.Printf("network envelope decode failed topic=%s: %v", topic, err)
				continue
			}
			fn(envelope)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ch.Close()
		})
	}, nil
}

// Close tears down the broker connection.
func (n *AMQPNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pub != nil {
		_ = n.pub.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

type disconnectedNetwork struct {
	reason string
}

func (disconnectedNetwork) Connected() bool { return false }

func (d disconnectedNetwork) Publish(ctx context.Context, topic string, data any, requestID string) error {
	return &BusinessError{Code: "network_down", Message: "network transport is not connected: " + d.reason}
}

func (d disconnectedNetwork) Subscribe(topic string, fn Handler) (CancelFunc, error) {
	return func() {}, nil
}
