package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPQueue publishes JSON payloads to durable RabbitMQ queues named after
// the topic. Subscribers receive the raw body ([]byte).
type AMQPQueue struct {
	conn   *amqp.Connection
	pubMu  sync.Mutex
	pubCh  *amqp.Channel
	logger *zap.Logger
}

func DialAMQP(url string, logger *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPQueue{conn: conn, pubCh: ch, logger: logger}, nil
}

func declare(ch *amqp.Channel, topic string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if _, err := declare(q.pubCh, topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.pubCh.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Subscribe consumes the topic on its own channel. A delivery is acked once
// the handler succeeds. A failed delivery is requeued once; a failed
// redelivery is dropped.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	return q.subscribe(topic, false, handler)
}

// SubscribeAtMostOnce acks each delivery before the handler runs. A consumer
// that dies mid-handler loses the message instead of running it again.
func (q *AMQPQueue) SubscribeAtMostOnce(topic string, handler func(payload any) error) error {
	return q.subscribe(topic, true, handler)
}

func (q *AMQPQueue) subscribe(topic string, ackFirst bool, handler func(payload any) error) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if _, err := declare(ch, topic); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(8, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer for %s: %w", topic, err)
	}

	logger := q.logger.With(zap.String("topic", topic))
	go func() {
		for d := range msgs {
			handleDelivery(d, ackFirst, handler, logger)
		}
		logger.Info("consumer stopped")
	}()
	return nil
}

func handleDelivery(d amqp.Delivery, ackFirst bool, handler func(payload any) error, logger *zap.Logger) {
	if ackFirst {
		if err := d.Ack(false); err != nil {
			logger.Error("ack failed", zap.Error(err))
			return
		}
		if err := handler(d.Body); err != nil {
			logger.Warn("delivery failed", zap.Error(err))
		}
		return
	}

	if err := handler(d.Body); err != nil {
		logger.Warn("delivery failed",
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err))
		d.Nack(false, !d.Redelivered)
		return
	}
	d.Ack(false)
}

func (q *AMQPQueue) Close() error {
	q.pubMu.Lock()
	q.pubCh.Close()
	q.pubMu.Unlock()
	return q.conn.Close()
}
