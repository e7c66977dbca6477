// Package broker publishes alert lifecycle events to a RabbitMQ topic
// exchange so other services can react to them.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hearthline/dealerdash/internal/alerting"
	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/logger"
	"github.com/hearthline/dealerdash/internal/metrics"
)

const publishTimeout = 5 * time.Second

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Message is the JSON body of every published event.
type Message struct {
	Event     string         `json:"event"`
	RunID     string         `json:"run_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Alert     entities.Alert `json:"alert"`
}

// Publisher forwards lifecycle events to an exchange. Routing keys have the
// form alert.<event>.<category>, e.g. alert.created.payment.
type Publisher struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
	log      logger.Logger
	metrics  *metrics.AlertMetrics
}

// Dial connects to url, opens a channel and declares the exchange.
func Dial(url, exchange string, log logger.Logger, m *metrics.AlertMetrics) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open broker channel: %w", err)
	}
	p, err := NewPublisher(ch, exchange, log, m)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher declares a durable topic exchange on ch.
func NewPublisher(ch Channel, exchange string, log logger.Logger, m *metrics.AlertMetrics) (*Publisher, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		log:      log.With(logger.Component("broker")),
		metrics:  m,
	}, nil
}

// RoutingKey returns the key an event is published under.
func RoutingKey(event *alerting.LifecycleEvent) string {
	category := event.Alert.Category
	if category == "" {
		category = "none"
	}
	return strings.Join([]string{"alert", event.Kind, category}, ".")
}

// Publish sends event to the exchange.
func (p *Publisher) Publish(ctx context.Context, event *alerting.LifecycleEvent) error {
	body, err := json.Marshal(Message{
		Event:     event.Kind,
		RunID:     event.RunID,
		Reason:    event.Reason,
		Timestamp: event.Timestamp,
		Alert:     event.Alert,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Kind, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    event.Timestamp,
		Type:         event.Kind,
		Body:         body,
	}
	if event.Alert.Priority == entities.PriorityHigh {
		msg.Priority = 5
	}

	key := RoutingKey(event)
	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}

// Handle implements alerting.EventHandler. Publish errors are logged.
func (p *Publisher) Handle(event *alerting.LifecycleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := p.Publish(ctx, event)
	p.metrics.EventPublished(event.Kind, err)
	if err != nil {
		p.log.Warn("failed to publish alert event",
			logger.String("event", event.Kind),
			logger.Uint64("alert_id", uint64(event.Alert.ID)),
			logger.Error(err))
	}
}

// Close closes the channel and, if Dial opened it, the connection.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
