package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer publishes events to a durable RabbitMQ topic exchange.
type EventProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// LogPublisher is a no-op Publisher used when RabbitMQ is unavailable at
// startup. It lets the service come up and logs events instead of failing hard.
type LogPublisher struct{}

func (p *LogPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("[MQ-FALLBACK] Would publish to exchange='%s' routingKey='%s'", exchange, routingKey)
	return nil
}
func (p *LogPublisher) Close() {}

// MaskURL hides AMQP credentials for logging.
func MaskURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		u.User = url.UserPassword("****", "****")
	}
	return u.String()
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer establishes a connection and channel to RabbitMQ with a
// bounded dial timeout so startup does not hang indefinitely.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

func (p *EventProducer) declareAndPublish(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
}

// Publish sends a JSON message to an exchange with a routing key. A failed
// publish gets one retry on a fresh channel before the error is surfaced.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	if err := p.declareAndPublish(ctx, exchange, routingKey, jsonBody); err != nil {
		log.Printf("Publish to exchange '%s' failed: %v. Reopening channel for retry...", exchange, err)
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return err
		}
		p.channel = ch
		if err := p.declareAndPublish(ctx, exchange, routingKey, jsonBody); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
