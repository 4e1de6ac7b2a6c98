// Package messaging delivers user-facing notifications raised by the sync
// layer.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/config"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// amqpChannel is the part of *amqp.Channel the notifier uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQNotifier publishes notifications to a durable queue, where the
// workstation's desktop notifier consumes them.
type RabbitMQNotifier struct {
	conn      *amqp.Connection
	ch        amqpChannel
	queueName string
	cb        *gobreaker.CircuitBreaker
	log       *zap.Logger
}

var _ ports.NotificationPublisher = (*RabbitMQNotifier)(nil)

func NewRabbitMQNotifier(amqpURL, queueName string, log *zap.Logger) (*RabbitMQNotifier, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Declare the queue (idempotent)
	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	n := newRabbitMQNotifier(ch, queueName, log)
	n.conn = conn
	return n, nil
}

func newRabbitMQNotifier(ch amqpChannel, queueName string, log *zap.Logger) *RabbitMQNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &RabbitMQNotifier{
		ch:        ch,
		queueName: queueName,
		cb:        config.NewCircuitBreaker(config.BreakerNotifier, log),
		log:       log,
	}
}

func (r *RabbitMQNotifier) Publish(ctx context.Context, n ports.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= 0 {
		return ctx.Err()
	}

	_, err = r.cb.Execute(func() (any, error) {
		return nil, r.ch.PublishWithContext(
			ctx,
			"",          // exchange (default)
			r.queueName, // routing key == queue name
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    uuid.NewString(),
				Timestamp:    time.Now().UTC(),
				Type:         n.Event,
				Body:         body,
			},
		)
	})
	if err != nil {
		r.log.Warn("Notification publish failed", zap.String("event", n.Event), zap.Error(err))
	}
	return err
}

func (r *RabbitMQNotifier) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			return err
		}
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
