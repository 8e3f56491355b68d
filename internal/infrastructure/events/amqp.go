// Package events delivers book change events to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/booksage/bookshelf/internal/domain/repository"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ repository.EventPublisher = (*AMQPPublisher)(nil)

const publishTimeout = 5 * time.Second

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events as persistent JSON messages on a fanout
// exchange. The routing key is the event type.
type AMQPPublisher struct {
	exchange string
	logger   *zap.Logger

	mu   sync.Mutex
	ch   amqpChannel
	conn io.Closer
}

// DialAMQP connects to the broker and declares a durable fanout exchange.
func DialAMQP(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	logger.Info("Connected to AMQP broker", zap.String("exchange", exchange))
	return newAMQPPublisher(ch, conn, exchange, logger), nil
}

func newAMQPPublisher(ch amqpChannel, conn io.Closer, exchange string, logger *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		exchange: exchange,
		logger:   logger.Named("amqp"),
		ch:       ch,
		conn:     conn,
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, event repository.BookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	}

	// Channels must not be used for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, string(event.Type), false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.logger.Debug("Published event", zap.String("type", string(event.Type)), zap.String("id", event.ID))
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	chErr := p.ch.Close()
	var connErr error
	if p.conn != nil {
		connErr = p.conn.Close()
	}
	if chErr != nil {
		return chErr
	}
	return connErr
}
