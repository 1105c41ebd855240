package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/events"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher sends balance events to a durable topic exchange
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	mu       sync.Mutex
	log      *logging.Logger
}

// Fallback is used when the broker is unreachable at startup; it only logs
type Fallback struct {
	log *logging.Logger
}

// NewFallback creates a no-op publisher
func NewFallback() *Fallback {
	return &Fallback{log: logging.Default.WithField("component", "rabbitmq_publisher")}
}

// PublishBalanceChanged implements events.Publisher
func (p *Fallback) PublishBalanceChanged(ctx context.Context, event events.BalanceChanged) error {
	p.log.WithFields(map[string]interface{}{
		"mode":        "fallback",
		"routing_key": event.RoutingKey(),
		"user_id":     event.UserID,
	}).Debug("publish skipped")
	return nil
}

// Close is a no-op
func (p *Fallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	// Drop stray characters before the scheme
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewPublisher dials the broker and declares the exchange
func NewPublisher(amqpURL, exchange string) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial so startup does not hang
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		conn:     conn,
		exchange: exchange,
		log:      logging.Default.WithField("component", "rabbitmq_publisher"),
	}
	if err := p.reopen(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// reopen replaces the channel and re-declares the exchange; callers hold mu
func (p *Publisher) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		ch.Close()
		return err
	}
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = ch
	return nil
}

func (p *Publisher) publish(ctx context.Context, routingKey string, body []byte) error {
	return p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// PublishBalanceChanged implements events.Publisher with a one-shot channel reopen
func (p *Publisher) PublishBalanceChanged(ctx context.Context, event events.BalanceChanged) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	routingKey := event.RoutingKey()
	if err := p.publish(ctx, routingKey, body); err != nil {
		p.log.Warn("publish failed; reopening channel routing_key=%s err=%v", routingKey, err)
		if reopenErr := p.reopen(); reopenErr != nil {
			return errors.Join(err, reopenErr)
		}
		return p.publish(ctx, routingKey, body)
	}
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
